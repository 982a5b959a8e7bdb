package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/pedagogic/courseforge/core"
)

// Key prefixes for different data types. Tenant and document identifiers
// are opaque tokens (UUIDs in practice) and must not contain ':'.
const (
	jobRecordPrefix   = "jobrec"
	jobStatusPrefix   = "jobsta"
	stageRunPrefix    = "stgrun"
	queueEntryPrefix  = "quepen"
	queueLeasePrefix  = "quelea"
	queueCancelPrefix = "quecan"
	chunkRecordPrefix = "chkrec"
	chunkDocPrefix    = "chkdoc"
	embedRecordPrefix = "embrec"
	embedCachePrefix  = "embcac"
	pointRecordPrefix = "vecpnt"
	pointDocPrefix    = "vecdoc"
)

// makeJobKey generates a key for a job record by ID.
func makeJobKey(id core.JobID) []byte {
	return []byte(fmt.Sprintf("%s:%s", jobRecordPrefix, id))
}

// makeJobStatusKey generates a key for a job status record by job ID.
func makeJobStatusKey(id core.JobID) []byte {
	return []byte(fmt.Sprintf("%s:%s", jobStatusPrefix, id))
}

// makeStageRunKey generates a composite key for a stage run.
// Format: prefix:jobID:phaseIndex, with the index in BigEndian order so
// lexicographic iteration yields phase order.
func makeStageRunKey(jobID core.JobID, phaseIndex int) []byte {
	prefix := fmt.Sprintf("%s:%s:", stageRunPrefix, jobID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(phaseIndex))
	return buf
}

// makeStageRunScanPrefix generates the iteration prefix for a job's stage runs.
func makeStageRunScanPrefix(jobID core.JobID) []byte {
	return []byte(fmt.Sprintf("%s:%s:", stageRunPrefix, jobID))
}

// makeQueueEntryKey generates a key for a pending queue entry.
func makeQueueEntryKey(id core.JobID) []byte {
	return []byte(fmt.Sprintf("%s:%s", queueEntryPrefix, id))
}

// makeQueueLeaseKey generates a key for a delivery lease.
func makeQueueLeaseKey(id core.JobID) []byte {
	return []byte(fmt.Sprintf("%s:%s", queueLeasePrefix, id))
}

// makeQueueCancelKey generates a key for a cancellation flag.
func makeQueueCancelKey(id core.JobID) []byte {
	return []byte(fmt.Sprintf("%s:%s", queueCancelPrefix, id))
}

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", chunkRecordPrefix, id))
}

// makeChunkDocKey generates a composite key for the document index.
// Format: prefix:documentID:chunkID
func makeChunkDocKey(documentID string, id core.ID) []byte {
	prefix := fmt.Sprintf("%s:%s:", chunkDocPrefix, documentID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeChunkDocScanPrefix generates the iteration prefix for a document's chunks.
func makeChunkDocScanPrefix(documentID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", chunkDocPrefix, documentID))
}

// makeEmbeddingKey generates a composite key for an embedding record.
// Format: prefix:chunkID:modelVersion
func makeEmbeddingKey(chunkID core.ID, modelVersion string) []byte {
	return []byte(fmt.Sprintf("%s:%d:%s", embedRecordPrefix, chunkID, modelVersion))
}

// makeEmbeddingCacheKey generates a key for a cached vector by content hash.
func makeEmbeddingCacheKey(key core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", embedCachePrefix, key))
}

// makePointKey generates a tenant-prefixed key for a vector point.
// Format: prefix:organizationID:courseID:chunkID. Because the tenant
// scope leads the key, a prefix scan can never leave the tenant.
func makePointKey(organizationID, courseID string, chunkID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%d", pointRecordPrefix, organizationID, courseID, chunkID))
}

// makePointOrgScanPrefix generates the iteration prefix for one organization.
func makePointOrgScanPrefix(organizationID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", pointRecordPrefix, organizationID))
}

// makePointCourseScanPrefix generates the iteration prefix for one course.
func makePointCourseScanPrefix(organizationID, courseID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:", pointRecordPrefix, organizationID, courseID))
}

// makePointDocKey generates a composite key for the point document index.
// The value stored under it is the point's primary key.
func makePointDocKey(documentID string, chunkID core.ID) []byte {
	prefix := fmt.Sprintf("%s:%s:", pointDocPrefix, documentID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(chunkID))
	return buf
}

// makePointDocScanPrefix generates the iteration prefix for a document's points.
func makePointDocScanPrefix(documentID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", pointDocPrefix, documentID))
}
