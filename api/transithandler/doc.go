// Package transithandler serves encryption as a service over HTTP.
//
// All routes are POST and take the key name from the path:
//
//	/v1/transit/encrypt/{name}   {plaintext, context} or {batch_input}
//	/v1/transit/decrypt/{name}   {ciphertext, context} or {batch_input}
//	/v1/transit/rewrap/{name}    {ciphertext, context} or {batch_input}
//	/v1/transit/sign/{name}      {input, algorithm}
//	/v1/transit/verify/{name}    {input, signature, algorithm}
//	/v1/transit/datakey/{name}   {bits, wrapped_only, context}
//
// Plaintexts, inputs and contexts are base64. A batch request succeeds as a
// whole once authorized; failures of individual items are reported in their
// entry of batch_results with an error and a kind.
package transithandler
