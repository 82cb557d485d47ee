// Package dispatch fans a list of items out into batched, schema-validated
// provider calls under a concurrency cap and reassembles the results in input
// order.
//
// ProcessBatches is synchronous: it returns once every batch has either
// succeeded or exhausted its retry budget. Every input item yields exactly one
// Result, holding either a validated record or an *ItemError explaining why
// the item failed. Translate specializes the dispatcher for translating the
// cells of a single column.
package dispatch
