package model

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ForestConfig controls random forest training.
type ForestConfig struct {
	Trees           int
	MaxDepth        int // 0 grows until leaves are pure or too small
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 considers every feature at each split
	Seed            uint64
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

// Node is one node of a flattened regression tree. Leaves have Left == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

type Tree struct {
	Nodes []Node
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// RandomForest averages CART regression trees grown on bootstrap samples.
type RandomForest struct {
	Trees     []Tree
	NFeatures int
}

func (f *RandomForest) Name() string { return "random_forest" }

func (f *RandomForest) Predict(x []float64) (float64, error) {
	if err := checkWidth(x, f.NFeatures); err != nil {
		return 0, err
	}
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("random forest has no trees")
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// FitForest grows cfg.Trees trees in parallel. Tree i draws its bootstrap
// sample and feature subsets from its own source seeded by (cfg.Seed, i), so
// the result does not depend on scheduling.
func FitForest(ctx context.Context, X [][]float64, y []float64, cfg ForestConfig) (*RandomForest, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("fit forest: %d rows, %d targets", n, len(y))
	}
	if cfg.Trees <= 0 {
		cfg.Trees = 1
	}
	cfg.MinSamplesSplit = max(cfg.MinSamplesSplit, 2)
	cfg.MinSamplesLeaf = max(cfg.MinSamplesLeaf, 1)
	p := len(X[0])
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("fit forest: row %d: %w", i, ErrFeatureCount)
		}
	}

	forest := &RandomForest{Trees: make([]Tree, cfg.Trees), NFeatures: p}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < cfg.Trees; t++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(t)))
			sample := make([]int, n)
			for i := range sample {
				sample[i] = rng.IntN(n)
			}
			b := &treeBuilder{X: X, y: y, cfg: cfg, rng: rng, nFeatures: p}
			b.build(sample, 0)
			forest.Trees[t] = Tree{Nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	return forest, nil
}

type treeBuilder struct {
	X         [][]float64
	y         []float64
	cfg       ForestConfig
	rng       *rand.Rand
	nFeatures int
	nodes     []Node
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Value: b.mean(idx)})

	if len(idx) < b.cfg.MinSamplesSplit || (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) || b.pure(idx) {
		return id
	}
	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	// Partition in place: values <= threshold first.
	lo, hi := 0, len(idx)-1
	for lo <= hi {
		if b.X[idx[lo]][feature] <= threshold {
			lo++
		} else {
			idx[lo], idx[hi] = idx[hi], idx[lo]
			hi--
		}
	}

	if lo == 0 || lo == len(idx) {
		return id
	}
	left := b.build(idx[:lo], depth+1)
	right := b.build(idx[lo:], depth+1)
	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = left
	b.nodes[id].Right = right
	return id
}

func (b *treeBuilder) mean(idx []int) float64 {
	sum := 0.0
	for _, i := range idx {
		sum += b.y[i]
	}
	return sum / float64(len(idx))
}

func (b *treeBuilder) pure(idx []int) bool {
	first := b.y[idx[0]]
	for _, i := range idx[1:] {
		if b.y[i] != first {
			return false
		}
	}
	return true
}

func (b *treeBuilder) candidateFeatures() []int {
	if b.cfg.MaxFeatures <= 0 || b.cfg.MaxFeatures >= b.nFeatures {
		all := make([]int, b.nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(b.nFeatures)[:b.cfg.MaxFeatures]
}

// bestSplit finds the feature and threshold that minimise the summed squared
// error of the two children.
func (b *treeBuilder) bestSplit(idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	var totalSum, totalSq float64
	for _, i := range idx {
		totalSum += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}
	bestSSE := totalSq - totalSum*totalSum/float64(n)
	minLeaf := b.cfg.MinSamplesLeaf

	sorted := make([]int, n)
	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			v := b.y[sorted[k]]
			leftSum += v
			leftSq += v * v

			nl := k + 1
			nr := n - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			xk, xnext := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if xk == xnext {
				continue
			}
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if sse < bestSSE-1e-12 {
				bestSSE = sse
				feature = f
				threshold = (xk + xnext) / 2
				if threshold >= xnext {
					threshold = xk
				}
				ok = true
			}
		}
	}
	return feature, threshold, ok
}
