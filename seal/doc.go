// Package seal manages the master key that roots the key wrapping hierarchy.
//
// The master key is split with Shamir's secret sharing at initialization and
// only ever exists in memory between Unseal and Seal. Other packages reach it
// exclusively through Manager.WithMasterKey; Seal stops admitting new callers,
// waits for in-flight ones, then zeroizes the key.
//
// A root token is issued at initialization and can be regenerated by a
// threshold of share holders through the generate-root flow, which never
// exposes the master key to the caller.
package seal
