// Package batch implements the async batch I/O path: a manager owning a
// bounded worker pool that creates batch contexts on demand, each
// accumulating PUT/GET/DELETE ops that execute together against an
// engine.Engine with per-op and per-batch completion callbacks.
//
// A batch is not a transaction: its effects on the engine observe the
// engine's own visibility rules, applied op by op in submission order.
package batch
