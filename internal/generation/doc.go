// Package generation defines the boundary between the enrichment core and
// external AI providers. A Client performs schema-aware structured calls and
// long-form research calls; adapters in internal/platform implement it for
// concrete providers. Provider failures are classified as transient (retried
// with backoff by RetryPolicy) or fatal (surfaced immediately).
package generation
