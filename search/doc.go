// Package search provides tenant-scoped hybrid retrieval over indexed
// vector points.
//
// The Searcher embeds the query, runs a dense similarity search hard
// bounded to the tenant filter, and optionally fuses a lexical overlap
// signal computed over the same tenant-scoped candidates. Results from
// outside the tenant are treated as a critical invariant violation: they
// are logged as a security-relevant event and never returned.
package search
