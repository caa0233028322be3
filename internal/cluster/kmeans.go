package cluster

import (
	"math/rand"

	"github.com/halcyonlabs/pharos/internal/vec"
)

// kmeansMaxIterations bounds a single clustering pass.
const kmeansMaxIterations = 25

// kmeansEpsilon is the total squared centroid shift below which a pass is
// considered converged.
const kmeansEpsilon = 1e-6

// kmeans partitions vectors into k groups using Lloyd's algorithm with
// k-means++ seeding. Returns the centroids and the cluster index assigned to
// each input vector. The seed fixes the RNG so rebuilds are reproducible.
func kmeans(vectors [][]float32, k int, seed int64) (centroids [][]float32, assignments []int) {
	if len(vectors) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(vectors) {
		k = len(vectors)
	}

	rng := rand.New(rand.NewSource(seed))
	centroids = seedCentroids(vectors, k, rng)
	assignments = make([]int, len(vectors))

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		for i, v := range vectors {
			assignments[i] = nearestCentroid(v, centroids)
		}

		next := recomputeCentroids(vectors, assignments, centroids, rng)

		var shift float64
		for i := range centroids {
			shift += vec.SquaredDistance(centroids[i], next[i])
		}
		centroids = next
		if shift < kmeansEpsilon {
			break
		}
	}

	for i, v := range vectors {
		assignments[i] = nearestCentroid(v, centroids)
	}
	return centroids, assignments
}

// seedCentroids picks initial centroids with k-means++: the first uniformly,
// each subsequent one weighted by squared distance to the nearest chosen seed.
func seedCentroids(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, cloneVector(vectors[rng.Intn(len(vectors))]))

	distances := make([]float64, len(vectors))
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			d := vec.SquaredDistance(v, centroids[0])
			for _, c := range centroids[1:] {
				if dc := vec.SquaredDistance(v, c); dc < d {
					d = dc
				}
			}
			distances[i] = d
			total += d
		}
		if total == 0 {
			// All remaining points coincide with a seed; duplicate one.
			centroids = append(centroids, cloneVector(vectors[rng.Intn(len(vectors))]))
			continue
		}
		target := rng.Float64() * total
		var cumulative float64
		chosen := len(vectors) - 1
		for i, d := range distances {
			cumulative += d
			if cumulative >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, cloneVector(vectors[chosen]))
	}
	return centroids
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestDist := vec.SquaredDistance(v, centroids[0])
	for i := 1; i < len(centroids); i++ {
		if d := vec.SquaredDistance(v, centroids[i]); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// recomputeCentroids averages members per cluster. A cluster left empty is
// reseeded to the point farthest from its current centroid set.
func recomputeCentroids(vectors [][]float32, assignments []int, current [][]float32, rng *rand.Rand) [][]float32 {
	k := len(current)
	groups := make([][][]float32, k)
	for i, v := range vectors {
		groups[assignments[i]] = append(groups[assignments[i]], v)
	}

	next := make([][]float32, k)
	for i := range groups {
		if len(groups[i]) == 0 {
			next[i] = cloneVector(farthestPoint(vectors, current, rng))
			continue
		}
		next[i] = vec.Mean(groups[i])
	}
	return next
}

func farthestPoint(vectors [][]float32, centroids [][]float32, rng *rand.Rand) []float32 {
	best := vectors[rng.Intn(len(vectors))]
	bestDist := -1.0
	for _, v := range vectors {
		d := vec.SquaredDistance(v, centroids[0])
		for _, c := range centroids[1:] {
			if dc := vec.SquaredDistance(v, c); dc < d {
				d = dc
			}
		}
		if d > bestDist {
			best = v
			bestDist = d
		}
	}
	return best
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
