package estimators

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Fold is one train/test partition of row indexes
type Fold struct {
	Train []int
	Test  []int
}

// TrainTestSplit shuffles n rows and holds out ceil(testSize·n) of them. When
// strata is non-nil the held-out share is kept per class.
func TrainTestSplit(n int, testSize float64, strata []int, seed int) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test_size must be in (0, 1), got %g", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest == 0 || nTest >= n {
		return nil, nil, fmt.Errorf("with n_samples=%d and test_size=%g the train or test split is empty", n, testSize)
	}
	rng := newRand(seed)
	if strata == nil {
		idx := rng.Perm(n)
		return ascending(idx[nTest:]), ascending(idx[:nTest]), nil
	}

	groups := groupRows(strata)
	for _, g := range groups {
		if len(g) < 2 {
			return nil, nil, errors.New("the least populated class has only 1 member, which is too few to stratify")
		}
	}
	if nTest < len(groups) || n-nTest < len(groups) {
		return nil, nil, fmt.Errorf("test and train splits must each hold at least one row of all %d classes", len(groups))
	}
	quota := apportion(groups, nTest)
	for g, rows := range groups {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		test = append(test, rows[:quota[g]]...)
		train = append(train, rows[quota[g]:]...)
	}
	return ascending(train), ascending(test), nil
}

// KFold partitions n rows into k contiguous folds; the first n%k folds are one
// row larger.
func KFold(n, k int, shuffle bool, seed int) ([]Fold, error) {
	if k < 2 || k > n {
		return nil, fmt.Errorf("cannot have number of folds=%d greater than the number of samples=%d or below 2", k, n)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if shuffle {
		newRand(seed).Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	folds := make([]Fold, 0, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		folds = append(folds, complement(idx, start, start+size))
		start += size
	}
	return folds, nil
}

// StratifiedKFold deals each class's rows round-robin over k folds so every fold
// keeps the class proportions.
func StratifiedKFold(y []int, k int, shuffle bool, seed int) ([]Fold, error) {
	n := len(y)
	if k < 2 || k > n {
		return nil, fmt.Errorf("cannot have number of folds=%d greater than the number of samples=%d or below 2", k, n)
	}
	rng := newRand(seed)
	assign := make([]int, n)
	next := 0
	for _, rows := range groupRows(y) {
		if shuffle {
			rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		}
		for _, r := range rows {
			assign[r] = next % k
			next++
		}
	}
	folds := make([]Fold, k)
	for i, f := range assign {
		for g := range folds {
			if g == f {
				folds[g].Test = append(folds[g].Test, i)
			} else {
				folds[g].Train = append(folds[g].Train, i)
			}
		}
	}
	for _, f := range folds {
		if len(f.Test) == 0 || len(f.Train) == 0 {
			return nil, errors.New("stratified folds left a partition empty")
		}
	}
	return folds, nil
}

// groupRows returns row indexes per label, in label order
func groupRows(labels []int) [][]int {
	byLabel := make(map[int][]int)
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], i)
	}
	keys := make([]int, 0, len(byLabel))
	for l := range byLabel {
		keys = append(keys, l)
	}
	sort.Ints(keys)
	out := make([][]int, len(keys))
	for i, l := range keys {
		out[i] = byLabel[l]
	}
	return out
}

// apportion splits total across groups proportionally to their sizes, giving
// every group at least one and handing leftovers to the largest remainders
func apportion(groups [][]int, total int) []int {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	quota := make([]int, len(groups))
	rest := make([]float64, len(groups))
	assigned := 0
	for i, g := range groups {
		exact := float64(total) * float64(len(g)) / float64(n)
		quota[i] = min(max(1, int(exact)), len(g)-1)
		rest[i] = exact - float64(quota[i])
		assigned += quota[i]
	}
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rest[order[a]] > rest[order[b]] })
	for assigned != total {
		moved := false
		for _, i := range order {
			if assigned < total && quota[i] < len(groups[i])-1 {
				quota[i]++
				assigned++
				moved = true
			} else if assigned > total && quota[i] > 1 {
				quota[i]--
				assigned--
				moved = true
			}
			if assigned == total {
				break
			}
		}
		if !moved {
			break
		}
	}
	return quota
}

func complement(idx []int, lo, hi int) Fold {
	f := Fold{Test: ascending(append([]int(nil), idx[lo:hi]...))}
	f.Train = append(f.Train, idx[:lo]...)
	f.Train = ascending(append(f.Train, idx[hi:]...))
	return f
}

func ascending(idx []int) []int {
	sort.Ints(idx)
	return idx
}
