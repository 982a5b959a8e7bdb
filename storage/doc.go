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


// Package storage provides the storage abstraction layer for courseforge.
//
// This package defines repository interfaces that decouple storage
// implementation from business logic, plus the binary serialization of all
// stored records. It allows different storage backends (BadgerDB,
// in-memory, etc.) to be used interchangeably.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - JobRepository: jobs and their conditional lifecycle transitions
//   - StageRunRepository: append-only per-job phase results
//   - QueueRepository: pending entries, leases, cancellation flags
//   - ChunkRepository: document chunk hierarchy
//   - EmbeddingRepository: embedding records and the content-hash cache
//   - VectorPointRepository: tenant-scoped vector points and search
//
// # Conditional updates
//
// JobRepository.Transition and QueueRepository.AcquireLease are the
// synchronization primitives of the whole system: both express their guard
// as part of an atomic read-decide-write so that concurrent callers
// serialize without timing assumptions.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation and
// timeout support.
package storage
