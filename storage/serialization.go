// Copyright 2025 Pedagogic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/pedagogic/courseforge/core"
)

// Serializers are hand-composed from mus-go primitives. Field order is the
// wire format; never reorder fields of an existing serializer.

var (
	stringSliceSer = ord.NewSliceSer[string](ord.String)
	stringMapSer   = ord.NewMapSer[string, string](ord.String, ord.String)
	float32Ser     = ord.NewSliceSer[float32](raw.Float32)
	idSliceSer     = ord.NewSliceSer[core.ID](idSer)
	headingSer     = ord.NewSliceSer[core.Heading](headingSerializer{})
)

// idSerializer encodes core.ID as a varint uint64.
type idSerializer struct{}

var idSer = idSerializer{}

func (idSerializer) Marshal(v core.ID, bs []byte) int {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (idSerializer) Unmarshal(bs []byte) (core.ID, int, error) {
	v, n, err := varint.Uint64.Unmarshal(bs)
	return core.ID(v), n, err
}

func (idSerializer) Size(v core.ID) int {
	return varint.Uint64.Size(uint64(v))
}

func (idSerializer) Skip(bs []byte) (int, error) {
	return varint.Uint64.Skip(bs)
}

// timeSerializer encodes a time as a presence flag plus Unix microseconds,
// preserving the zero time ("not set") across round trips.
type timeSerializer struct{}

var timeSer = timeSerializer{}

func (timeSerializer) Marshal(t time.Time, bs []byte) int {
	set := !t.IsZero()
	n := ord.Bool.Marshal(set, bs)
	if !set {
		return n
	}
	return n + varint.Int64.Marshal(t.UnixMicro(), bs[n:])
}

func (timeSerializer) Unmarshal(bs []byte) (time.Time, int, error) {
	set, n, err := ord.Bool.Unmarshal(bs)
	if err != nil || !set {
		return time.Time{}, n, err
	}
	micros, n2, err := varint.Int64.Unmarshal(bs[n:])
	if err != nil {
		return time.Time{}, n + n2, err
	}
	return time.UnixMicro(micros).UTC(), n + n2, nil
}

func (timeSerializer) Size(t time.Time) int {
	if t.IsZero() {
		return ord.Bool.Size(false)
	}
	return ord.Bool.Size(true) + varint.Int64.Size(t.UnixMicro())
}

func (s timeSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type headingSerializer struct{}

func (headingSerializer) Marshal(h core.Heading, bs []byte) int {
	n := varint.Int.Marshal(h.Level, bs)
	n += ord.String.Marshal(h.Title, bs[n:])
	n += varint.Int.Marshal(h.Offset, bs[n:])
	return n
}

func (headingSerializer) Unmarshal(bs []byte) (core.Heading, int, error) {
	var h core.Heading
	level, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return h, n, err
	}
	title, n2, err := ord.String.Unmarshal(bs[n:])
	n += n2
	if err != nil {
		return h, n, err
	}
	offset, n3, err := varint.Int.Unmarshal(bs[n:])
	n += n3
	if err != nil {
		return h, n, err
	}
	return core.Heading{Level: level, Title: title, Offset: offset}, n, nil
}

func (headingSerializer) Size(h core.Heading) int {
	return varint.Int.Size(h.Level) + ord.String.Size(h.Title) + varint.Int.Size(h.Offset)
}

func (s headingSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type jobSerializer struct{}

var jobSer = jobSerializer{}

func (jobSerializer) Marshal(j core.Job, bs []byte) int {
	n := ord.String.Marshal(string(j.Id), bs)
	n += varint.Int.Marshal(int(j.Type), bs[n:])
	n += ord.String.Marshal(j.Payload.OrganizationID, bs[n:])
	n += ord.String.Marshal(j.Payload.CourseID, bs[n:])
	n += stringSliceSer.Marshal(j.Payload.DocumentIDs, bs[n:])
	n += stringMapSer.Marshal(j.Payload.Params, bs[n:])
	n += varint.Int.Marshal(j.Priority, bs[n:])
	n += timeSer.Marshal(j.CreatedAt, bs[n:])
	return n
}

func (jobSerializer) Unmarshal(bs []byte) (core.Job, int, error) {
	var j core.Job
	id, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return j, n, err
	}
	j.Id = core.JobID(id)

	jobType, n2, err := varint.Int.Unmarshal(bs[n:])
	n += n2
	if err != nil {
		return j, n, err
	}
	j.Type = core.JobType(jobType)

	if j.Payload.OrganizationID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return j, n + n2, err
	}
	n += n2
	if j.Payload.CourseID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return j, n + n2, err
	}
	n += n2
	if j.Payload.DocumentIDs, n2, err = stringSliceSer.Unmarshal(bs[n:]); err != nil {
		return j, n + n2, err
	}
	n += n2
	if j.Payload.Params, n2, err = stringMapSer.Unmarshal(bs[n:]); err != nil {
		return j, n + n2, err
	}
	n += n2
	if j.Priority, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return j, n + n2, err
	}
	n += n2
	if j.CreatedAt, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return j, n + n2, err
	}
	n += n2
	return j, n, nil
}

func (jobSerializer) Size(j core.Job) int {
	return ord.String.Size(string(j.Id)) +
		varint.Int.Size(int(j.Type)) +
		ord.String.Size(j.Payload.OrganizationID) +
		ord.String.Size(j.Payload.CourseID) +
		stringSliceSer.Size(j.Payload.DocumentIDs) +
		stringMapSer.Size(j.Payload.Params) +
		varint.Int.Size(j.Priority) +
		timeSer.Size(j.CreatedAt)
}

func (s jobSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type jobStatusSerializer struct{}

var jobStatusSer = jobStatusSerializer{}

func (jobStatusSerializer) Marshal(st core.JobStatus, bs []byte) int {
	n := ord.String.Marshal(string(st.JobId), bs)
	n += varint.Int.Marshal(int(st.State), bs[n:])
	n += timeSer.Marshal(st.StartedAt, bs[n:])
	n += timeSer.Marshal(st.FinishedAt, bs[n:])
	n += varint.Int.Marshal(st.AttemptCount, bs[n:])
	n += ord.String.Marshal(st.LastError, bs[n:])
	n += timeSer.Marshal(st.UpdatedAt, bs[n:])
	return n
}

func (jobStatusSerializer) Unmarshal(bs []byte) (core.JobStatus, int, error) {
	var st core.JobStatus
	id, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return st, n, err
	}
	st.JobId = core.JobID(id)

	state, n2, err := varint.Int.Unmarshal(bs[n:])
	n += n2
	if err != nil {
		return st, n, err
	}
	st.State = core.JobState(state)

	if st.StartedAt, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return st, n + n2, err
	}
	n += n2
	if st.FinishedAt, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return st, n + n2, err
	}
	n += n2
	if st.AttemptCount, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return st, n + n2, err
	}
	n += n2
	if st.LastError, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return st, n + n2, err
	}
	n += n2
	if st.UpdatedAt, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return st, n + n2, err
	}
	n += n2
	return st, n, nil
}

func (jobStatusSerializer) Size(st core.JobStatus) int {
	return ord.String.Size(string(st.JobId)) +
		varint.Int.Size(int(st.State)) +
		timeSer.Size(st.StartedAt) +
		timeSer.Size(st.FinishedAt) +
		varint.Int.Size(st.AttemptCount) +
		ord.String.Size(st.LastError) +
		timeSer.Size(st.UpdatedAt)
}

func (s jobStatusSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type phaseOutputSerializer struct{}

var phaseOutputSer = phaseOutputSerializer{}

func (phaseOutputSerializer) Marshal(o core.PhaseOutput, bs []byte) int {
	n := varint.Int.Marshal(int(o.Kind), bs)
	n += ord.String.Marshal(o.DocumentID, bs[n:])
	n += ord.String.Marshal(o.Text, bs[n:])
	n += headingSer.Marshal(o.Headings, bs[n:])
	n += idSliceSer.Marshal(o.ChunkIDs, bs[n:])
	n += varint.Int.Marshal(o.ParentCount, bs[n:])
	n += varint.Int.Marshal(o.ChildCount, bs[n:])
	n += varint.Int.Marshal(o.EmbeddedCount, bs[n:])
	n += ord.String.Marshal(o.ModelVersion, bs[n:])
	n += varint.Int.Marshal(o.PointCount, bs[n:])
	n += stringSliceSer.Marshal(o.Passages, bs[n:])
	n += ord.String.Marshal(o.Content, bs[n:])
	return n
}

func (phaseOutputSerializer) Unmarshal(bs []byte) (core.PhaseOutput, int, error) {
	var o core.PhaseOutput
	kind, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return o, n, err
	}
	o.Kind = core.PhaseOutputKind(kind)

	var n2 int
	if o.DocumentID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.Text, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.Headings, n2, err = headingSer.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.ChunkIDs, n2, err = idSliceSer.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.ParentCount, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.ChildCount, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.EmbeddedCount, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.ModelVersion, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.PointCount, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.Passages, n2, err = stringSliceSer.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	if o.Content, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return o, n + n2, err
	}
	n += n2
	return o, n, nil
}

func (phaseOutputSerializer) Size(o core.PhaseOutput) int {
	return varint.Int.Size(int(o.Kind)) +
		ord.String.Size(o.DocumentID) +
		ord.String.Size(o.Text) +
		headingSer.Size(o.Headings) +
		idSliceSer.Size(o.ChunkIDs) +
		varint.Int.Size(o.ParentCount) +
		varint.Int.Size(o.ChildCount) +
		varint.Int.Size(o.EmbeddedCount) +
		ord.String.Size(o.ModelVersion) +
		varint.Int.Size(o.PointCount) +
		stringSliceSer.Size(o.Passages) +
		ord.String.Size(o.Content)
}

func (s phaseOutputSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type stageRunSerializer struct{}

var stageRunSer = stageRunSerializer{}

func (stageRunSerializer) Marshal(r core.StageRun, bs []byte) int {
	n := ord.String.Marshal(string(r.JobId), bs)
	n += varint.Int.Marshal(r.PhaseIndex, bs[n:])
	n += ord.String.Marshal(r.PhaseName, bs[n:])
	n += phaseOutputSer.Marshal(r.Output, bs[n:])
	n += timeSer.Marshal(r.CompletedAt, bs[n:])
	return n
}

func (stageRunSerializer) Unmarshal(bs []byte) (core.StageRun, int, error) {
	var r core.StageRun
	id, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return r, n, err
	}
	r.JobId = core.JobID(id)

	var n2 int
	if r.PhaseIndex, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return r, n + n2, err
	}
	n += n2
	if r.PhaseName, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return r, n + n2, err
	}
	n += n2
	if r.Output, n2, err = phaseOutputSer.Unmarshal(bs[n:]); err != nil {
		return r, n + n2, err
	}
	n += n2
	if r.CompletedAt, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return r, n + n2, err
	}
	n += n2
	return r, n, nil
}

func (stageRunSerializer) Size(r core.StageRun) int {
	return ord.String.Size(string(r.JobId)) +
		varint.Int.Size(r.PhaseIndex) +
		ord.String.Size(r.PhaseName) +
		phaseOutputSer.Size(r.Output) +
		timeSer.Size(r.CompletedAt)
}

func (s stageRunSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type chunkSerializer struct{}

var chunkSer = chunkSerializer{}

func (chunkSerializer) Marshal(c core.Chunk, bs []byte) int {
	n := idSer.Marshal(c.Id, bs)
	n += idSer.Marshal(c.ParentId, bs[n:])
	n += ord.String.Marshal(c.DocumentID, bs[n:])
	n += ord.String.Marshal(c.OrganizationID, bs[n:])
	n += ord.String.Marshal(c.CourseID, bs[n:])
	n += varint.Int.Marshal(int(c.Kind), bs[n:])
	n += ord.String.Marshal(c.Text, bs[n:])
	n += varint.Int.Marshal(c.TokenCount, bs[n:])
	n += varint.Int.Marshal(c.OrderIndex, bs[n:])
	return n
}

func (chunkSerializer) Unmarshal(bs []byte) (core.Chunk, int, error) {
	var c core.Chunk
	id, n, err := idSer.Unmarshal(bs)
	if err != nil {
		return c, n, err
	}
	c.Id = id

	var n2 int
	if c.ParentId, n2, err = idSer.Unmarshal(bs[n:]); err != nil {
		return c, n + n2, err
	}
	n += n2
	if c.DocumentID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + n2, err
	}
	n += n2
	if c.OrganizationID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + n2, err
	}
	n += n2
	if c.CourseID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + n2, err
	}
	n += n2
	kind, n2, err := varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return c, n + n2, err
	}
	n += n2
	c.Kind = core.ChunkKind(kind)
	if c.Text, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + n2, err
	}
	n += n2
	if c.TokenCount, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return c, n + n2, err
	}
	n += n2
	if c.OrderIndex, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return c, n + n2, err
	}
	n += n2
	return c, n, nil
}

func (chunkSerializer) Size(c core.Chunk) int {
	return idSer.Size(c.Id) +
		idSer.Size(c.ParentId) +
		ord.String.Size(c.DocumentID) +
		ord.String.Size(c.OrganizationID) +
		ord.String.Size(c.CourseID) +
		varint.Int.Size(int(c.Kind)) +
		ord.String.Size(c.Text) +
		varint.Int.Size(c.TokenCount) +
		varint.Int.Size(c.OrderIndex)
}

func (s chunkSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type embeddingSerializer struct{}

var embeddingSer = embeddingSerializer{}

func (embeddingSerializer) Marshal(e core.EmbeddingVector, bs []byte) int {
	n := idSer.Marshal(e.ChunkId, bs)
	n += float32Ser.Marshal(e.Vector, bs[n:])
	n += ord.String.Marshal(e.ModelVersion, bs[n:])
	n += timeSer.Marshal(e.CreatedAt, bs[n:])
	return n
}

func (embeddingSerializer) Unmarshal(bs []byte) (core.EmbeddingVector, int, error) {
	var e core.EmbeddingVector
	id, n, err := idSer.Unmarshal(bs)
	if err != nil {
		return e, n, err
	}
	e.ChunkId = id

	var n2 int
	if e.Vector, n2, err = float32Ser.Unmarshal(bs[n:]); err != nil {
		return e, n + n2, err
	}
	n += n2
	if e.ModelVersion, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return e, n + n2, err
	}
	n += n2
	if e.CreatedAt, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return e, n + n2, err
	}
	n += n2
	return e, n, nil
}

func (embeddingSerializer) Size(e core.EmbeddingVector) int {
	return idSer.Size(e.ChunkId) +
		float32Ser.Size(e.Vector) +
		ord.String.Size(e.ModelVersion) +
		timeSer.Size(e.CreatedAt)
}

func (s embeddingSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type vectorPointSerializer struct{}

var vectorPointSer = vectorPointSerializer{}

func (vectorPointSerializer) Marshal(p core.VectorPoint, bs []byte) int {
	n := idSer.Marshal(p.ChunkId, bs)
	n += float32Ser.Marshal(p.Vector, bs[n:])
	n += ord.String.Marshal(p.Payload.OrganizationID, bs[n:])
	n += ord.String.Marshal(p.Payload.CourseID, bs[n:])
	n += ord.String.Marshal(p.Payload.DocumentID, bs[n:])
	n += varint.Int.Marshal(int(p.Payload.Kind), bs[n:])
	n += ord.String.Marshal(p.Payload.Text, bs[n:])
	return n
}

func (vectorPointSerializer) Unmarshal(bs []byte) (core.VectorPoint, int, error) {
	var p core.VectorPoint
	id, n, err := idSer.Unmarshal(bs)
	if err != nil {
		return p, n, err
	}
	p.ChunkId = id

	var n2 int
	if p.Vector, n2, err = float32Ser.Unmarshal(bs[n:]); err != nil {
		return p, n + n2, err
	}
	n += n2
	if p.Payload.OrganizationID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return p, n + n2, err
	}
	n += n2
	if p.Payload.CourseID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return p, n + n2, err
	}
	n += n2
	if p.Payload.DocumentID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return p, n + n2, err
	}
	n += n2
	kind, n2, err := varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return p, n + n2, err
	}
	n += n2
	p.Payload.Kind = core.ChunkKind(kind)
	if p.Payload.Text, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return p, n + n2, err
	}
	n += n2
	return p, n, nil
}

func (vectorPointSerializer) Size(p core.VectorPoint) int {
	return idSer.Size(p.ChunkId) +
		float32Ser.Size(p.Vector) +
		ord.String.Size(p.Payload.OrganizationID) +
		ord.String.Size(p.Payload.CourseID) +
		ord.String.Size(p.Payload.DocumentID) +
		varint.Int.Size(int(p.Payload.Kind)) +
		ord.String.Size(p.Payload.Text)
}

func (s vectorPointSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type queueEntrySerializer struct{}

var queueEntrySer = queueEntrySerializer{}

func (queueEntrySerializer) Marshal(e QueueEntry, bs []byte) int {
	n := ord.String.Marshal(string(e.JobId), bs)
	n += varint.Int.Marshal(e.Priority, bs[n:])
	n += varint.Int.Marshal(e.Attempt, bs[n:])
	n += timeSer.Marshal(e.ReadyAt, bs[n:])
	n += timeSer.Marshal(e.EnqueuedAt, bs[n:])
	return n
}

func (queueEntrySerializer) Unmarshal(bs []byte) (QueueEntry, int, error) {
	var e QueueEntry
	id, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return e, n, err
	}
	e.JobId = core.JobID(id)

	var n2 int
	if e.Priority, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return e, n + n2, err
	}
	n += n2
	if e.Attempt, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return e, n + n2, err
	}
	n += n2
	if e.ReadyAt, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return e, n + n2, err
	}
	n += n2
	if e.EnqueuedAt, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return e, n + n2, err
	}
	n += n2
	return e, n, nil
}

func (queueEntrySerializer) Size(e QueueEntry) int {
	return ord.String.Size(string(e.JobId)) +
		varint.Int.Size(e.Priority) +
		varint.Int.Size(e.Attempt) +
		timeSer.Size(e.ReadyAt) +
		timeSer.Size(e.EnqueuedAt)
}

func (s queueEntrySerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type leaseSerializer struct{}

var leaseSer = leaseSerializer{}

func (leaseSerializer) Marshal(l Lease, bs []byte) int {
	n := ord.String.Marshal(string(l.JobId), bs)
	n += ord.String.Marshal(l.WorkerID, bs[n:])
	n += varint.Int.Marshal(l.Attempt, bs[n:])
	n += timeSer.Marshal(l.Deadline, bs[n:])
	return n
}

func (leaseSerializer) Unmarshal(bs []byte) (Lease, int, error) {
	var l Lease
	id, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return l, n, err
	}
	l.JobId = core.JobID(id)

	var n2 int
	if l.WorkerID, n2, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return l, n + n2, err
	}
	n += n2
	if l.Attempt, n2, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return l, n + n2, err
	}
	n += n2
	if l.Deadline, n2, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return l, n + n2, err
	}
	n += n2
	return l, n, nil
}

func (leaseSerializer) Size(l Lease) int {
	return ord.String.Size(string(l.JobId)) +
		ord.String.Size(l.WorkerID) +
		varint.Int.Size(l.Attempt) +
		timeSer.Size(l.Deadline)
}

func (s leaseSerializer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, idSer.Size(id))
	idSer.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := idSer.Unmarshal(data)
	return id, err
}

// MarshalJob serializes a Job to bytes.
func MarshalJob(job *core.Job) []byte {
	buf := make([]byte, jobSer.Size(*job))
	jobSer.Marshal(*job, buf)
	return buf
}

// UnmarshalJob deserializes a Job from bytes.
func UnmarshalJob(data []byte) (*core.Job, error) {
	job, _, err := jobSer.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarshalJobStatus serializes a JobStatus to bytes.
func MarshalJobStatus(status *core.JobStatus) []byte {
	buf := make([]byte, jobStatusSer.Size(*status))
	jobStatusSer.Marshal(*status, buf)
	return buf
}

// UnmarshalJobStatus deserializes a JobStatus from bytes.
func UnmarshalJobStatus(data []byte) (*core.JobStatus, error) {
	status, _, err := jobStatusSer.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// MarshalStageRun serializes a StageRun to bytes.
func MarshalStageRun(run *core.StageRun) []byte {
	buf := make([]byte, stageRunSer.Size(*run))
	stageRunSer.Marshal(*run, buf)
	return buf
}

// UnmarshalStageRun deserializes a StageRun from bytes.
func UnmarshalStageRun(data []byte) (*core.StageRun, error) {
	run, _, err := stageRunSer.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, chunkSer.Size(*chunk))
	chunkSer.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, _, err := chunkSer.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// MarshalEmbeddingVector serializes an EmbeddingVector to bytes.
func MarshalEmbeddingVector(v *core.EmbeddingVector) []byte {
	buf := make([]byte, embeddingSer.Size(*v))
	embeddingSer.Marshal(*v, buf)
	return buf
}

// UnmarshalEmbeddingVector deserializes an EmbeddingVector from bytes.
func UnmarshalEmbeddingVector(data []byte) (*core.EmbeddingVector, error) {
	v, _, err := embeddingSer.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// MarshalVectorPoint serializes a VectorPoint to bytes.
func MarshalVectorPoint(p *core.VectorPoint) []byte {
	buf := make([]byte, vectorPointSer.Size(*p))
	vectorPointSer.Marshal(*p, buf)
	return buf
}

// UnmarshalVectorPoint deserializes a VectorPoint from bytes.
func UnmarshalVectorPoint(data []byte) (*core.VectorPoint, error) {
	p, _, err := vectorPointSer.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarshalQueueEntry serializes a QueueEntry to bytes.
func MarshalQueueEntry(e *QueueEntry) []byte {
	buf := make([]byte, queueEntrySer.Size(*e))
	queueEntrySer.Marshal(*e, buf)
	return buf
}

// UnmarshalQueueEntry deserializes a QueueEntry from bytes.
func UnmarshalQueueEntry(data []byte) (*QueueEntry, error) {
	e, _, err := queueEntrySer.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarshalLease serializes a Lease to bytes.
func MarshalLease(l *Lease) []byte {
	buf := make([]byte, leaseSer.Size(*l))
	leaseSer.Marshal(*l, buf)
	return buf
}

// UnmarshalLease deserializes a Lease from bytes.
func UnmarshalLease(data []byte) (*Lease, error) {
	l, _, err := leaseSer.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// MarshalVector serializes a bare float32 vector (used by the embedding cache).
func MarshalVector(v []float32) []byte {
	buf := make([]byte, float32Ser.Size(v))
	float32Ser.Marshal(v, buf)
	return buf
}

// UnmarshalVector deserializes a bare float32 vector.
func UnmarshalVector(data []byte) ([]float32, error) {
	v, _, err := float32Ser.Unmarshal(data)
	return v, err
}
