// Package activation is the offline activation core: the Validator state
// machine and the Status Service.
//
// Both answer from the same predicate, Evaluate, so what the UI shows and
// what the host enforces cannot drift apart. Policy outcomes are returned
// as domain.ActivationResult values; a non-nil error only ever means the
// persisted state or the device identity could not be read, and callers
// must then deny access.
//
// A Validator is safe for concurrent use: every read-decide-write sequence
// runs inside the store's critical section.
package activation
