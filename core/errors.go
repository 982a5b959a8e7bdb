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

import "errors"

// Domain validation errors
var (
	// ErrInvalidJob indicates a Job failed validation.
	ErrInvalidJob = errors.New("invalid job")

	// ErrInvalidJobType indicates an unknown JobType value.
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidJobState indicates an unknown JobState value.
	ErrInvalidJobState = errors.New("invalid job state")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrEmptyText indicates a required text field is empty.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrMissingOrganization indicates the organization scope is absent.
	ErrMissingOrganization = errors.New("organization id is required")

	// ErrMissingCourse indicates the course scope is absent.
	ErrMissingCourse = errors.New("course id is required")

	// ErrInvalidIdentifier indicates a tenant or document identifier
	// contains a reserved character.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrTokenBudgetExceeded indicates a chunk exceeds its token budget.
	ErrTokenBudgetExceeded = errors.New("chunk exceeds token budget")

	// ErrDimensionMismatch indicates a vector's dimension differs from the
	// deployment's fixed dimension. Never retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUnexpectedPhaseOutput indicates a phase output variant does not
	// match what the consuming phase expects.
	ErrUnexpectedPhaseOutput = errors.New("unexpected phase output")
)
