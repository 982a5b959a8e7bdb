// Package ingestion turns source documents into searchable vector points.
//
// The Pipeline type manages the ingestion workflow for a document:
//   - Chunking into a parent/child hierarchy with token budgets
//   - Generating embeddings in batches, with content-hash caching
//   - Upserting tenant-scoped vector points
//
// Multiple documents are processed concurrently on a worker pool. A failed
// ingestion leaves the document's previous chunks and points untouched.
package ingestion
