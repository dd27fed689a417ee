package hyperopt

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aegisshield/ml-workbench/internal/params"
)

// dimension is one searched parameter. Points hold every dimension in its
// internal coordinate: the raw value for uniform and quniform, its log for
// loguniform and the option index for choice.
type dimension struct {
	spec params.ParamSpec
	lo   float64
	hi   float64
}

func newDimension(spec params.ParamSpec) dimension {
	d := dimension{spec: spec}
	switch spec.Search.Type {
	case params.LogUniform:
		d.lo, d.hi = math.Log(spec.Search.Low), math.Log(spec.Search.High)
	case params.Choice:
		d.lo, d.hi = 0, float64(len(spec.Search.Options)-1)
	default:
		d.lo, d.hi = spec.Search.Low, spec.Search.High
	}
	return d
}

func (d dimension) categorical() bool { return d.spec.Search.Type == params.Choice }

// snap maps a continuous draw onto the grid the distribution allows
func (d dimension) snap(v float64) float64 {
	if d.spec.Search.Type == params.QUniform && d.spec.Search.Q > 0 {
		q := d.spec.Search.Q
		v = math.Round(v/q) * q
	}
	return math.Min(math.Max(v, d.lo), d.hi)
}

// value converts an internal coordinate into the parameter value
func (d dimension) value(v float64) any {
	var out float64
	switch d.spec.Search.Type {
	case params.Choice:
		return d.spec.Search.Options[int(v)]
	case params.LogUniform:
		out = math.Exp(v)
	default:
		out = d.snap(v)
	}
	if d.spec.Kind == params.KindInt {
		return int(math.Round(out))
	}
	return out
}

type trial struct {
	point []float64
	loss  float64
}

// tpe is a tree-structured Parzen estimator over independent dimensions. After
// the random start-up trials each dimension is drawn from the density of the
// best gamma share of trials, choosing the candidate that maximises l(x)/g(x).
type tpe struct {
	dims       []dimension
	startup    int
	gamma      float64
	candidates int
	rng        *rand.Rand
	trials     []trial
}

func newTPE(space []params.ParamSpec, cfg Config) *tpe {
	dims := make([]dimension, len(space))
	for i, spec := range space {
		dims[i] = newDimension(spec)
	}
	seed := uint64(cfg.Seed)
	return &tpe{
		dims:       dims,
		startup:    cfg.StartupTrials,
		gamma:      cfg.Gamma,
		candidates: cfg.Candidates,
		rng:        rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
	}
}

func (t *tpe) observe(point []float64, loss float64) {
	t.trials = append(t.trials, trial{point: point, loss: loss})
}

func (t *tpe) suggest() []float64 {
	point := make([]float64, len(t.dims))
	if len(t.trials) < t.startup {
		for i, d := range t.dims {
			point[i] = t.prior(d)
		}
		return point
	}
	good, bad := t.split()
	for i, d := range t.dims {
		below, above := column(good, i), column(bad, i)
		if d.categorical() {
			point[i] = t.suggestChoice(d, below, above)
		} else {
			point[i] = t.suggestNumeric(d, below, above)
		}
	}
	return point
}

func (t *tpe) prior(d dimension) float64 {
	if d.categorical() {
		return float64(t.rng.IntN(len(d.spec.Search.Options)))
	}
	return d.snap(d.lo + t.rng.Float64()*(d.hi-d.lo))
}

// split orders trials by loss and returns the best ceil(gamma·n) and the rest
func (t *tpe) split() (good, bad []trial) {
	sorted := append([]trial(nil), t.trials...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].loss < sorted[b].loss })
	n := max(1, int(math.Ceil(t.gamma*float64(len(sorted)))))
	return sorted[:n], sorted[n:]
}

func column(trials []trial, i int) []float64 {
	out := make([]float64, len(trials))
	for j, tr := range trials {
		out[j] = tr.point[i]
	}
	return out
}

func (t *tpe) suggestNumeric(d dimension, below, above []float64) float64 {
	l := newParzen(below, d.lo, d.hi)
	g := newParzen(above, d.lo, d.hi)
	best, bestScore := d.lo, math.Inf(-1)
	for c := 0; c < t.candidates; c++ {
		x := d.snap(l.sample(t.rng))
		if score := l.logPdf(x) - g.logPdf(x); score > bestScore {
			best, bestScore = x, score
		}
	}
	return best
}

func (t *tpe) suggestChoice(d dimension, below, above []float64) float64 {
	k := len(d.spec.Search.Options)
	l := categoricalWeights(below, k)
	g := categoricalWeights(above, k)
	best, bestScore := 0, math.Inf(-1)
	for c := 0; c < t.candidates; c++ {
		x := drawIndex(t.rng, l)
		if score := math.Log(l[x]) - math.Log(g[x]); score > bestScore {
			best, bestScore = x, score
		}
	}
	return float64(best)
}

// categoricalWeights are option frequencies smoothed by a uniform prior of one count each
func categoricalWeights(obs []float64, k int) []float64 {
	w := make([]float64, k)
	for i := range w {
		w[i] = 1
	}
	for _, v := range obs {
		w[int(v)]++
	}
	total := float64(len(obs) + k)
	for i := range w {
		w[i] /= total
	}
	return w
}

func drawIndex(rng *rand.Rand, w []float64) int {
	u := rng.Float64()
	for i, p := range w {
		if u < p {
			return i
		}
		u -= p
	}
	return len(w) - 1
}

// parzen is an equally weighted mixture of Gaussians truncated to [lo, hi]: one
// per observation plus a broad prior component
type parzen struct {
	mus    []float64
	sigmas []float64
	lo, hi float64
}

func newParzen(obs []float64, lo, hi float64) parzen {
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	mus := append([]float64{(lo + hi) / 2}, obs...)
	prior := 0
	order := make([]int, len(mus))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return mus[order[a]] < mus[order[b]] })
	sorted := make([]float64, len(mus))
	for i, j := range order {
		sorted[i] = mus[j]
		if j == 0 {
			prior = i
		}
	}

	minSigma := span / math.Min(100, float64(len(sorted)+1))
	sigmas := make([]float64, len(sorted))
	for i := range sorted {
		if i == prior {
			sigmas[i] = span
			continue
		}
		gap := 0.0
		if i > 0 {
			gap = sorted[i] - sorted[i-1]
		}
		if i < len(sorted)-1 {
			gap = math.Max(gap, sorted[i+1]-sorted[i])
		}
		sigmas[i] = math.Min(math.Max(gap, minSigma), span)
	}
	return parzen{mus: sorted, sigmas: sigmas, lo: lo, hi: hi}
}

func (p parzen) sample(rng *rand.Rand) float64 {
	i := rng.IntN(len(p.mus))
	for try := 0; try < 100; try++ {
		v := p.mus[i] + p.sigmas[i]*rng.NormFloat64()
		if v >= p.lo && v <= p.hi {
			return v
		}
	}
	return math.Min(math.Max(p.mus[i], p.lo), p.hi)
}

func (p parzen) logPdf(x float64) float64 {
	total := 0.0
	for i, mu := range p.mus {
		n := distuv.Normal{Mu: mu, Sigma: p.sigmas[i]}
		mass := n.CDF(p.hi) - n.CDF(p.lo)
		if mass <= 0 {
			continue
		}
		total += n.Prob(x) / mass
	}
	if total <= 0 {
		return math.Inf(-1)
	}
	return math.Log(total / float64(len(p.mus)))
}
