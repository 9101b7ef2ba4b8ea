package l4appearance

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
)

// ErrTooFewPoints is returned when k-means is asked for more clusters than
// there are points.
var ErrTooFewPoints = errors.New("fewer points than clusters")

// KMeansResult is the best clustering found over all attempts.
type KMeansResult struct {
	Labels  []int
	Centers []r2.Point
	Inertia float64 // sum of squared distances to assigned centers
}

// KMeans partitions points into k clusters using k-means++ seeding. The run
// with the lowest inertia over cfg.Attempts attempts wins; the same seed
// always gives the same result.
func KMeans(points []r2.Point, k int, cfg KMeansConfig) (KMeansResult, error) {
	if k <= 0 {
		return KMeansResult{}, fmt.Errorf("kmeans: k must be positive, got %d", k)
	}
	if len(points) < k {
		return KMeansResult{}, fmt.Errorf("kmeans: %d points for %d clusters: %w", len(points), k, ErrTooFewPoints)
	}
	attempts := max(cfg.Attempts, 1)
	iterations := max(cfg.MaxIterations, 1)
	rng := rand.New(rand.NewSource(cfg.Seed))

	var best KMeansResult
	for a := 0; a < attempts; a++ {
		centers := seedPlusPlus(points, k, rng)
		labels := make([]int, len(points))
		for it := 0; it < iterations; it++ {
			assign(points, centers, labels)
			if moved := recenter(points, centers, labels); moved <= cfg.Epsilon {
				break
			}
		}
		inertia := assign(points, centers, labels)
		if a == 0 || inertia < best.Inertia {
			best = KMeansResult{Labels: labels, Centers: centers, Inertia: inertia}
		}
	}
	return best, nil
}

// seedPlusPlus picks the first center uniformly, then each further center
// with probability proportional to its squared distance from the nearest
// center chosen so far.
func seedPlusPlus(points []r2.Point, k int, rng *rand.Rand) []r2.Point {
	centers := make([]r2.Point, 0, k)
	centers = append(centers, points[rng.Intn(len(points))])
	d2 := make([]float64, len(points))
	for len(centers) < k {
		var sum float64
		for i, p := range points {
			d2[i] = math.Inf(1)
			for _, c := range centers {
				d2[i] = min(d2[i], sq(p.Sub(c)))
			}
			sum += d2[i]
		}
		if sum == 0 {
			centers = append(centers, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * sum
		pick := len(points) - 1
		for i, d := range d2 {
			target -= d
			if target < 0 {
				pick = i
				break
			}
		}
		centers = append(centers, points[pick])
	}
	return centers
}

// assign labels every point with its nearest center, ties to the lower index,
// and returns the inertia.
func assign(points, centers []r2.Point, labels []int) float64 {
	var inertia float64
	for i, p := range points {
		bestD := math.Inf(1)
		for c, ctr := range centers {
			if d := sq(p.Sub(ctr)); d < bestD {
				bestD = d
				labels[i] = c
			}
		}
		inertia += bestD
	}
	return inertia
}

// recenter moves each center to the mean of its members and returns the
// largest distance any center moved. A center with no members stays put.
func recenter(points, centers []r2.Point, labels []int) float64 {
	sums := make([]r2.Point, len(centers))
	counts := make([]int, len(centers))
	for i, p := range points {
		sums[labels[i]] = sums[labels[i]].Add(p)
		counts[labels[i]]++
	}
	var moved float64
	for c := range centers {
		if counts[c] == 0 {
			continue
		}
		next := sums[c].Mul(1 / float64(counts[c]))
		moved = max(moved, next.Sub(centers[c]).Norm())
		centers[c] = next
	}
	return moved
}

func sq(p r2.Point) float64 { return p.Dot(p) }
