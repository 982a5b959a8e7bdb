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


package core

import (
	"fmt"
	"strings"
)

// ValidateIdentifier validates that a tenant or document identifier is
// usable as a key segment. Identifiers are opaque tokens (UUIDs in
// practice); ':' is reserved as the key segment delimiter, and an
// identifier containing it could widen a tenant-scoped key range.
func ValidateIdentifier(id string) error {
	if strings.ContainsRune(id, ':') {
		return fmt.Errorf("%w: %q contains ':'", ErrInvalidIdentifier, id)
	}
	return nil
}

// ValidateJob validates a Job according to domain rules.
//
// Validation rules:
//   - Id must not be empty
//   - Type must be a known job type
//   - Payload must carry organization and course scope
//   - Tenant and document identifiers must not contain ':'
//
// NOT validated:
//   - Priority (any int is an acceptable ordering hint)
//   - DocumentIDs presence (generation jobs may carry none)
func ValidateJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}

	if job.Id == "" {
		return fmt.Errorf("%w: job id is empty", ErrInvalidJob)
	}

	if err := ValidateJobType(job.Type); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if job.Payload.OrganizationID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrMissingOrganization)
	}

	if job.Payload.CourseID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrMissingCourse)
	}

	if err := ValidateIdentifier(job.Payload.OrganizationID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if err := ValidateIdentifier(job.Payload.CourseID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	for _, docID := range job.Payload.DocumentIDs {
		if err := ValidateIdentifier(docID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidJob, err)
		}
	}

	return nil
}

// ValidateJobType validates that a JobType has a known value.
func ValidateJobType(jobType JobType) error {
	switch jobType {
	case JobTypeIngest, JobTypeGenerateOutline, JobTypeGenerateLessons:
		return nil
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidJobType, jobType)
	}
}

// ValidateJobState validates that a JobState has a known value.
func ValidateJobState(state JobState) error {
	switch state {
	case JobStatePending, JobStateActive, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return nil
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidJobState, state)
	}
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Text must not be empty
//   - Tenant scope (organization, course) must be present
//   - Child chunks must reference a parent; parent chunks must not
//
// NOT validated (enforced elsewhere):
//   - Parent existence within the document (checked by the chunk store)
//   - TokenCount against budgets (checked by the chunker, which knows them)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyText)
	}

	if chunk.OrganizationID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrMissingOrganization)
	}

	if chunk.CourseID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrMissingCourse)
	}

	if err := ValidateIdentifier(chunk.OrganizationID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}
	if err := ValidateIdentifier(chunk.CourseID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}
	if err := ValidateIdentifier(chunk.DocumentID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}

	switch chunk.Kind {
	case ChunkKindParent:
		if chunk.ParentId != 0 {
			return fmt.Errorf("%w: parent chunk has a parent reference", ErrInvalidChunk)
		}
	case ChunkKindChild:
		if chunk.ParentId == 0 {
			return fmt.Errorf("%w: child chunk lacks a parent reference", ErrInvalidChunk)
		}
	default:
		return fmt.Errorf("%w: unknown chunk kind %d", ErrInvalidChunk, chunk.Kind)
	}

	return nil
}

// ValidateTenantFilter validates that a search filter carries the
// mandatory organization scope.
func ValidateTenantFilter(filter TenantFilter) error {
	if filter.OrganizationID == "" {
		return ErrMissingOrganization
	}
	if err := ValidateIdentifier(filter.OrganizationID); err != nil {
		return err
	}
	return ValidateIdentifier(filter.CourseID)
}
