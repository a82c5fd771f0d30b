// Package state implements a versioned key/value store with optimistic
// concurrency control on top of a storage.Storage.
//
// Every operation returns a future. A Variable read with Fetch carries the
// version it was read at; Store and Expunge succeed only if that version is
// still current, so a lost race shows up as a nil Variable or false rather
// than as an error. State keeps no per-name state of its own and never
// retries on its own; Update provides the usual read-modify-write loop.
package state
