package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/pedagogic/courseforge/core"
)

func testPoint(chunkID core.ID, org, course, doc string, vector []float32) *core.VectorPoint {
	return &core.VectorPoint{
		ChunkId: chunkID,
		Vector:  vector,
		Payload: core.PointPayload{
			OrganizationID: org,
			CourseID:       course,
			DocumentID:     doc,
			Kind:           core.ChunkKindChild,
			Text:           "some text",
		},
	}
}

func TestPointUpsertAndCount(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	err := repos.Points.UpsertPoints(ctx,
		testPoint(1, "org-1", "course-1", "doc-1", []float32{1, 0, 0}),
		testPoint(2, "org-1", "course-1", "doc-1", []float32{0, 1, 0}),
		testPoint(3, "org-1", "course-2", "doc-2", []float32{0, 0, 1}),
	)
	if err != nil {
		t.Fatalf("Failed to upsert points: %v", err)
	}

	count, err := repos.Points.CountPoints(ctx, core.TenantFilter{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 points in org, got %d", count)
	}

	count, err = repos.Points.CountPoints(ctx, core.TenantFilter{OrganizationID: "org-1", CourseID: "course-1"})
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 points in course, got %d", count)
	}

	// Re-upserting the same chunk overwrites, never duplicates
	err = repos.Points.UpsertPoints(ctx, testPoint(1, "org-1", "course-1", "doc-1", []float32{0.5, 0.5, 0}))
	if err != nil {
		t.Fatalf("Failed to re-upsert: %v", err)
	}
	count, err = repos.Points.CountPoints(ctx, core.TenantFilter{OrganizationID: "org-1", CourseID: "course-1"})
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected overwrite, got %d points", count)
	}
}

func TestPointDimensionValidation(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	err := repos.Points.UpsertPoints(ctx,
		testPoint(1, "org-1", "course-1", "doc-1", []float32{1, 0}),
	)
	if !errors.Is(err, core.ErrDimensionMismatch) {
		t.Fatalf("Expected ErrDimensionMismatch, got %v", err)
	}

	if err := repos.Points.UpsertPoints(ctx, testPoint(2, "org-1", "course-1", "doc-1", []float32{1, 0, 0})); err != nil {
		t.Fatalf("Failed to upsert valid point: %v", err)
	}
	_, err = repos.Points.Search(ctx, []float32{1, 0}, core.TenantFilter{OrganizationID: "org-1"}, 5)
	if !errors.Is(err, core.ErrDimensionMismatch) {
		t.Fatalf("Expected ErrDimensionMismatch on query, got %v", err)
	}
}

func TestPointSearchTenantIsolation(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	// Two tenants with identical vectors: a hit must never leak across
	err := repos.Points.UpsertPoints(ctx,
		testPoint(1, "org-a", "course-1", "doc-1", []float32{1, 0, 0}),
		testPoint(2, "org-b", "course-1", "doc-2", []float32{1, 0, 0}),
	)
	if err != nil {
		t.Fatalf("Failed to upsert points: %v", err)
	}

	matches, err := repos.Points.Search(ctx, []float32{1, 0, 0}, core.TenantFilter{OrganizationID: "org-a"}, 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	if matches[0].Point.Payload.OrganizationID != "org-a" {
		t.Fatalf("Search leaked across tenants: got org '%s'", matches[0].Point.Payload.OrganizationID)
	}

	// Missing organization scope is rejected outright
	if _, err := repos.Points.Search(ctx, []float32{1, 0, 0}, core.TenantFilter{}, 10); !errors.Is(err, core.ErrMissingOrganization) {
		t.Fatalf("Expected ErrMissingOrganization, got %v", err)
	}
}

func TestPointIdentifierDelimiterRejected(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	if err := repos.Points.UpsertPoints(ctx, testPoint(1, "acme", "course-1", "doc-1", []float32{1, 0, 0})); err != nil {
		t.Fatalf("Failed to upsert valid point: %v", err)
	}

	// An org id embedding the key delimiter would sort inside the "acme"
	// key range; the store must refuse to write it.
	err := repos.Points.UpsertPoints(ctx, testPoint(2, "acme:evil", "course-1", "doc-2", []float32{1, 0, 0}))
	if !errors.Is(err, core.ErrInvalidIdentifier) {
		t.Fatalf("Expected ErrInvalidIdentifier for org, got %v", err)
	}
	err = repos.Points.UpsertPoints(ctx, testPoint(3, "acme", "course:evil", "doc-2", []float32{1, 0, 0}))
	if !errors.Is(err, core.ErrInvalidIdentifier) {
		t.Fatalf("Expected ErrInvalidIdentifier for course, got %v", err)
	}
	err = repos.Points.UpsertPoints(ctx, testPoint(4, "acme", "course-1", "doc:evil", []float32{1, 0, 0}))
	if !errors.Is(err, core.ErrInvalidIdentifier) {
		t.Fatalf("Expected ErrInvalidIdentifier for document, got %v", err)
	}

	matches, err := repos.Points.Search(ctx, []float32{1, 0, 0}, core.TenantFilter{OrganizationID: "acme"}, 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(matches) != 1 || matches[0].Point.Payload.OrganizationID != "acme" {
		t.Fatalf("Expected only the acme point, got %d matches", len(matches))
	}

	// Read paths reject the delimiter too
	if _, err := repos.Points.Search(ctx, []float32{1, 0, 0}, core.TenantFilter{OrganizationID: "acme:evil"}, 10); !errors.Is(err, core.ErrInvalidIdentifier) {
		t.Fatalf("Expected ErrInvalidIdentifier on search, got %v", err)
	}
	scanErr := repos.Points.ScanTenant(ctx, core.TenantFilter{OrganizationID: "acme", CourseID: "c:1"}, func(*core.VectorPoint) error { return nil })
	if !errors.Is(scanErr, core.ErrInvalidIdentifier) {
		t.Fatalf("Expected ErrInvalidIdentifier on scan, got %v", scanErr)
	}
}

func TestPointSearchRanking(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	err := repos.Points.UpsertPoints(ctx,
		testPoint(1, "org-1", "course-1", "doc-1", []float32{1, 0, 0}),
		testPoint(2, "org-1", "course-1", "doc-1", []float32{0.9, 0.1, 0}),
		testPoint(3, "org-1", "course-1", "doc-1", []float32{0, 1, 0}),
		testPoint(4, "org-1", "course-1", "doc-1", []float32{0, 0, 1}),
	)
	if err != nil {
		t.Fatalf("Failed to upsert points: %v", err)
	}

	matches, err := repos.Points.Search(ctx, []float32{1, 0, 0}, core.TenantFilter{OrganizationID: "org-1"}, 2)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].Point.ChunkId != 1 || matches[1].Point.ChunkId != 2 {
		t.Fatalf("Wrong ranking: %d, %d", matches[0].Point.ChunkId, matches[1].Point.ChunkId)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatal("Expected scores in descending order")
	}
}

func TestPointDeleteByDocument(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	err := repos.Points.UpsertPoints(ctx,
		testPoint(1, "org-1", "course-1", "doc-1", []float32{1, 0, 0}),
		testPoint(2, "org-1", "course-1", "doc-1", []float32{0, 1, 0}),
		testPoint(3, "org-1", "course-1", "doc-2", []float32{0, 0, 1}),
	)
	if err != nil {
		t.Fatalf("Failed to upsert points: %v", err)
	}

	if err := repos.Points.DeletePointsByDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("Failed to delete points: %v", err)
	}

	count, err := repos.Points.CountPoints(ctx, core.TenantFilter{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 remaining point, got %d", count)
	}
}

func TestEmbeddingStoreAndCache(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	vec := &core.EmbeddingVector{
		ChunkId:      1,
		Vector:       []float32{0.1, 0.2, 0.3},
		ModelVersion: "model-v1",
	}
	if err := repos.Embeddings.PutEmbeddings(ctx, vec); err != nil {
		t.Fatalf("Failed to put embedding: %v", err)
	}

	got, err := repos.Embeddings.GetEmbedding(ctx, 1, "model-v1")
	if err != nil {
		t.Fatalf("Failed to get embedding: %v", err)
	}
	if got.Vector[1] != 0.2 {
		t.Fatalf("Expected 0.2, got %f", got.Vector[1])
	}

	// A different model version is a separate record
	if _, err := repos.Embeddings.GetEmbedding(ctx, 1, "model-v2"); err == nil {
		t.Fatal("Expected miss for unknown model version")
	}

	// Cache round trip
	key := core.IDFromContent("some text\x00model-v1")
	if _, found, err := repos.Embeddings.GetCachedVector(ctx, key); err != nil || found {
		t.Fatalf("Expected cache miss, found=%v err=%v", found, err)
	}
	if err := repos.Embeddings.PutCachedVector(ctx, key, []float32{1, 2, 3}); err != nil {
		t.Fatalf("Failed to put cached vector: %v", err)
	}
	cached, found, err := repos.Embeddings.GetCachedVector(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get cached vector: %v", err)
	}
	if !found || len(cached) != 3 || cached[2] != 3 {
		t.Fatalf("Wrong cached vector: found=%v %v", found, cached)
	}
}
