// Package transit is the envelope service: a request-oriented facade over
// kms.Store that adds batch encrypt, decrypt and rewrap.
//
// Every operation runs through the same pipeline:
//
//  1. an OpenTelemetry span named "transit.<operation>" is started
//  2. the optional interfaces.Authorizer is consulted; a refusal surfaces as
//     interfaces.ErrUnauthorized wrapping the authorizer's error
//  3. the key store operation runs
//  4. egide_operations_total and egide_operation_duration_seconds are updated
//     and an interfaces.Event is handed to the optional event sink
//
// Batch requests are authorized once. Each item is then executed and
// reported independently, and its failure is carried in its BatchResult
// rather than failing the request.
package transit
