package cluster

import (
	"testing"
)

// twoBlobs returns points forming two well-separated groups: the first half
// around (0,0), the second around (10,10).
func twoBlobs() [][]float32 {
	return [][]float32{
		{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1},
		{10, 10}, {10.1, 10}, {10, 10.1}, {10.1, 10.1},
	}
}

func TestKmeans_SeparatesBlobs(t *testing.T) {
	points := twoBlobs()
	_, assignments := kmeans(points, 2, 42)

	first := assignments[0]
	for i := 1; i < 4; i++ {
		if assignments[i] != first {
			t.Fatalf("low blob split across clusters: %v", assignments)
		}
	}
	second := assignments[4]
	if second == first {
		t.Fatalf("both blobs landed in one cluster: %v", assignments)
	}
	for i := 5; i < 8; i++ {
		if assignments[i] != second {
			t.Fatalf("high blob split across clusters: %v", assignments)
		}
	}
}

func TestKmeans_Deterministic(t *testing.T) {
	points := twoBlobs()
	c1, a1 := kmeans(points, 2, 42)
	c2, a2 := kmeans(points, 2, 42)

	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("assignments differ between runs: %v vs %v", a1, a2)
		}
	}
	for i := range c1 {
		for j := range c1[i] {
			if c1[i][j] != c2[i][j] {
				t.Fatalf("centroids differ between runs")
			}
		}
	}
}

func TestKmeans_KClampedToN(t *testing.T) {
	points := [][]float32{{1, 0}, {0, 1}}
	centroids, assignments := kmeans(points, 5, 42)
	if len(centroids) != 2 {
		t.Errorf("expected k clamped to 2, got %d centroids", len(centroids))
	}
	if len(assignments) != 2 {
		t.Errorf("expected 2 assignments, got %d", len(assignments))
	}
}

func TestKmeans_EmptyInput(t *testing.T) {
	centroids, assignments := kmeans(nil, 3, 42)
	if centroids != nil || assignments != nil {
		t.Errorf("expected nil results for empty input")
	}
}

func TestKmeans_IdenticalPoints(t *testing.T) {
	points := [][]float32{{1, 1}, {1, 1}, {1, 1}}
	centroids, assignments := kmeans(points, 2, 42)
	if len(centroids) != 2 {
		t.Fatalf("expected 2 centroids, got %d", len(centroids))
	}
	for _, a := range assignments {
		if a < 0 || a >= 2 {
			t.Errorf("assignment out of range: %d", a)
		}
	}
}
