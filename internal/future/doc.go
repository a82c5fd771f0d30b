// Package future provides single-assignment asynchronous results with
// advisory cancellation.
//
// A Promise is the producer side and a Future the consumer side of the same
// result. A Future resolves at most once, to one of Ready, Failed or
// Discarded. Consumers may block, block with a deadline, or register
// completion callbacks. Discard is a request only: the producer may still
// deliver a value, a failure, or honour the request.
package future
