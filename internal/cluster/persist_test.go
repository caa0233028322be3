package cluster

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/store"
)

func TestGenerationFromStored(t *testing.T) {
	members := []uuid.UUID{uuid.New(), uuid.New()}
	saved := &store.ClusterGeneration{
		Version:       3,
		BuiltAt:       time.Now(),
		ItemCount:     2,
		BuildDuration: 1.5,
		Clusters: []store.PersistedCluster{
			{Ordinal: 0, Centroid: pgvector.NewVector([]float32{1, 0}), Members: members},
		},
	}

	gen := generationFromStored(saved)
	if gen.Version != 3 || gen.ItemCount != 2 {
		t.Errorf("metadata not carried: %+v", gen)
	}
	if gen.BuildDuration != 1500*time.Millisecond {
		t.Errorf("build duration = %v, want 1.5s", gen.BuildDuration)
	}
	if len(gen.Centroids) != 1 || gen.Centroids[0][0] != 1 {
		t.Errorf("centroid not carried: %v", gen.Centroids)
	}
	if len(gen.Members[0]) != 2 {
		t.Errorf("members not carried: %v", gen.Members)
	}
}

func TestGenerationFromStored_DurationSurvivesRestore(t *testing.T) {
	vectors := index.NewMemory()
	x := New(vectors, nil, testConfig(), testLogger())

	x.Restore(generationFromStored(&store.ClusterGeneration{
		Version:       5,
		BuiltAt:       time.Now(),
		ItemCount:     8,
		BuildDuration: 0.25,
		Clusters: []store.PersistedCluster{
			{Ordinal: 0, Centroid: pgvector.NewVector([]float32{1, 0})},
		},
	}))

	if got := x.Diagnostics().BuildDuration; got != 0.25 {
		t.Errorf("diagnostics build duration = %v, want 0.25", got)
	}
}
