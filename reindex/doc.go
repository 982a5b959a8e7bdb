// Package reindex re-embeds indexed chunks with a new embedding model
// and rebuilds their vector points. Existing embedding records for older
// model versions are retained, so a reindex can be rolled back by
// rebuilding points from the previous version's records.
package reindex
