package model

import (
	"math"
	"sort"
)

// node is a regression tree node. Leaves have Feature = -1.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// tree is a CART regression tree stored as a flat node slice, root at 0.
type tree struct {
	Nodes []node `json:"nodes"`
}

func (t *tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// growTree fits a depth-limited squared-error tree on the rows in idx.
func growTree(X [][]float64, y []float64, idx []int, depth, minLeaf int) tree {
	t := tree{}
	t.grow(X, y, idx, depth, minLeaf)
	return t
}

func (t *tree) grow(X [][]float64, y []float64, idx []int, depth, minLeaf int) int {
	self := len(t.Nodes)
	t.Nodes = append(t.Nodes, node{Feature: -1, Value: meanAt(y, idx)})

	if depth <= 0 || len(idx) < 2*minLeaf {
		return self
	}

	feat, thr, ok := bestSplit(X, y, idx, minLeaf)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := t.grow(X, y, left, depth-1, minLeaf)
	r := t.grow(X, y, right, depth-1, minLeaf)
	t.Nodes[self].Feature = feat
	t.Nodes[self].Threshold = thr
	t.Nodes[self].Left = l
	t.Nodes[self].Right = r
	return self
}

// bestSplit scans every feature for the threshold minimizing the summed
// squared error of both children.
func bestSplit(X [][]float64, y []float64, idx []int, minLeaf int) (int, float64, bool) {
	n := len(idx)
	var total, totalSq float64
	for _, i := range idx {
		total += y[i]
		totalSq += y[i] * y[i]
	}
	parentSSE := totalSq - total*total/float64(n)

	bestFeat, bestThr, bestSSE := -1, 0.0, parentSSE-1e-12
	order := make([]int, n)

	for f := range X[idx[0]] {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		var lSum, lSq float64
		for k := 0; k < n-1; k++ {
			v := y[order[k]]
			lSum += v
			lSq += v * v

			cur, next := X[order[k]][f], X[order[k+1]][f]
			if cur == next || k+1 < minLeaf || n-k-1 < minLeaf {
				continue
			}
			ln, rn := float64(k+1), float64(n-k-1)
			rSum, rSq := total-lSum, totalSq-lSq
			sse := (lSq - lSum*lSum/ln) + (rSq - rSum*rSum/rn)
			if sse < bestSSE {
				bestFeat, bestThr, bestSSE = f, (cur+next)/2, sse
			}
		}
	}

	if bestFeat < 0 || math.IsNaN(bestSSE) {
		return 0, 0, false
	}
	return bestFeat, bestThr, true
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var s float64
	for _, i := range idx {
		s += y[i]
	}
	return s / float64(len(idx))
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
