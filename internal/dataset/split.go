package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split holds the row indices of a train/test partition.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit partitions row indices so that each class keeps its share
// in the test set. The result is deterministic for a given seed.
func StratifiedSplit(y []int, testSize float64, seed int64) (Split, error) {
	if testSize <= 0 || testSize >= 1 {
		return Split{}, fmt.Errorf("test size must be in (0, 1), got %f", testSize)
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	for label, idx := range byClass {
		if len(idx) < 2 {
			return Split{}, fmt.Errorf("class %d has %d member(s); at least 2 are required to stratify", label, len(idx))
		}
	}

	classes := make([]int, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	var split Split
	for _, label := range classes {
		idx := append([]int(nil), byClass[label]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(float64(len(idx)) * testSize))
		if nTest < 1 {
			nTest = 1
		}
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		split.Test = append(split.Test, idx[:nTest]...)
		split.Train = append(split.Train, idx[nTest:]...)
	}

	sort.Ints(split.Train)
	sort.Ints(split.Test)
	return split, nil
}

// TakeLabels returns y at idx.
func TakeLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for j, i := range idx {
		out[j] = y[i]
	}
	return out
}
