// Package forest implements an isolation forest over plain feature
// vectors.
//
// Anomalies are easier to isolate than normal points: random axis
// splits strand them near the root, so shorter average path lengths
// mean higher anomaly scores. Scores follow the standard normalization
// 2^(-E[h]/c(n)) and land in (0, 1), with scores above roughly 0.6
// indicating isolation well ahead of the expected depth.
//
// The forest is seeded explicitly and uses a single sequential source
// of randomness during Fit, so the same seed and input always produce
// the same trees and the same scores.
package forest

import (
	"math"
	"math/rand"
)

type node struct {
	splitFeature int
	splitValue   float64
	left         *node
	right        *node
	size         int
	leaf         bool
}

// Forest is a trained isolation forest. Fit before scoring.
type Forest struct {
	trees      []*node
	numTrees   int
	subsample  int
	maxDepth   int
	sampleSize int
	rng        *rand.Rand
}

// New returns an untrained forest. The depth limit is the canonical
// ceil(log2(subsample)): deeper splits than that stop separating
// anything an average path length would notice.
func New(trees, subsample int, seed int64) *Forest {
	if trees < 1 {
		trees = 1
	}
	if subsample < 2 {
		subsample = 2
	}
	maxDepth := int(math.Ceil(math.Log2(float64(subsample))))
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &Forest{
		trees:     make([]*node, 0, trees),
		numTrees:  trees,
		subsample: subsample,
		maxDepth:  maxDepth,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Fit builds the trees over random subsamples of the data. Fitting an
// empty dataset leaves the forest untrained.
func (f *Forest) Fit(points [][]float64) {
	if len(points) == 0 {
		return
	}
	f.sampleSize = f.subsample
	if f.sampleSize > len(points) {
		f.sampleSize = len(points)
	}
	for i := 0; i < f.numTrees; i++ {
		sample := f.sampleData(points)
		f.trees = append(f.trees, f.buildTree(sample, 0))
	}
}

// Score returns the anomaly score for one point. An untrained forest
// scores everything 0.5, the value the normalization assigns to a
// point at exactly the expected path length.
func (f *Forest) Score(point []float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.trees {
		total += f.pathLength(tree, point, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/averagePathLength(f.sampleSize))
}

// ScoreAll scores every point, in order.
func (f *Forest) ScoreAll(points [][]float64) []float64 {
	scores := make([]float64, len(points))
	for i, p := range points {
		scores[i] = f.Score(p)
	}
	return scores
}

// sampleData takes the leading subsample of a Fisher-Yates shuffle.
func (f *Forest) sampleData(points [][]float64) [][]float64 {
	shuffled := make([][]float64, len(points))
	copy(shuffled, points)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := f.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:f.sampleSize]
}

func (f *Forest) buildTree(points [][]float64, depth int) *node {
	if len(points) <= 1 || depth >= f.maxDepth || allIdentical(points) {
		return &node{size: len(points), leaf: true}
	}

	splitFeature := f.rng.Intn(len(points[0]))
	minVal, maxVal := featureRange(points, splitFeature)
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	left, right := splitPoints(points, splitFeature, splitValue)
	if len(left) == 0 || len(right) == 0 {
		return &node{size: len(points), leaf: true}
	}

	return &node{
		splitFeature: splitFeature,
		splitValue:   splitValue,
		left:         f.buildTree(left, depth+1),
		right:        f.buildTree(right, depth+1),
		size:         len(points),
	}
}

func (f *Forest) pathLength(tree *node, point []float64, depth int) float64 {
	if tree.leaf {
		// Credit the expected depth of the points left in the leaf.
		return float64(depth) + averagePathLength(tree.size)
	}
	if point[tree.splitFeature] < tree.splitValue {
		return f.pathLength(tree.left, point, depth+1)
	}
	return f.pathLength(tree.right, point, depth+1)
}

// averagePathLength is c(n), the expected path length of an
// unsuccessful binary search tree lookup over n points:
// c(n) = 2H(n-1) - 2(n-1)/n.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*harmonicNumber(n-1) - 2*float64(n-1)/float64(n)
}

func harmonicNumber(n int) float64 {
	// H(n) ~ ln(n) + Euler-Mascheroni constant.
	return math.Log(float64(n)) + 0.5772156649
}

func allIdentical(points [][]float64) bool {
	if len(points) <= 1 {
		return true
	}
	first := points[0]
	for i := 1; i < len(points); i++ {
		for j := range first {
			if math.Abs(points[i][j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(points [][]float64, feature int) (float64, float64) {
	minVal := points[0][feature]
	maxVal := points[0][feature]
	for _, p := range points {
		if p[feature] < minVal {
			minVal = p[feature]
		}
		if p[feature] > maxVal {
			maxVal = p[feature]
		}
	}
	return minVal, maxVal
}

func splitPoints(points [][]float64, feature int, splitValue float64) ([][]float64, [][]float64) {
	var left, right [][]float64
	for _, p := range points {
		if p[feature] < splitValue {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return left, right
}
