// Package mock provides test doubles for the ai interfaces, with
// deterministic embeddings so similarity-dependent tests are repeatable.
package mock
