// Package stages executes the ordered phase pipeline of a job. Each
// completed phase is persisted before the next one starts, so a crashed
// or redelivered job resumes after its last recorded phase instead of
// repeating work. Pipelines exist for document ingestion and for
// retrieval-grounded content generation.
package stages
