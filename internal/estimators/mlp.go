package estimators

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Perceptron is a fully connected network trained with Adam on mini-batches
type Perceptron struct {
	Hidden       []int
	Activation   string
	Alpha        float64
	LearningRate float64
	MaxIter      int
	BatchSize    int
	Tol          float64
	Seed         int
	Scaler       standardiser
	Weights      []*mat.Dense
	Biases       [][]float64
}

func perceptronFrom(p Params) Perceptron {
	return Perceptron{
		Hidden:       p.Ints("hidden_layer_sizes", []int{100}),
		Activation:   p.String("activation", "relu"),
		Alpha:        p.Float("alpha", 1e-4),
		LearningRate: p.Float("learning_rate_init", 1e-3),
		MaxIter:      max(1, p.Int("max_iter", 200)),
		BatchSize:    p.Int("batch_size", 200),
		Tol:          p.Float("tol", 1e-4),
		Seed:         p.Int("random_state", 42),
	}
}

func (n *Perceptron) activate(z *mat.Dense) {
	z.Apply(func(_, _ int, v float64) float64 {
		switch n.Activation {
		case "identity":
			return v
		case "tanh":
			return math.Tanh(v)
		case "logistic":
			return sigmoid(v)
		default:
			return math.Max(v, 0)
		}
	}, z)
}

// derive multiplies delta by the activation derivative expressed through the activation output a
func (n *Perceptron) derive(delta, a *mat.Dense) {
	delta.Apply(func(i, j int, v float64) float64 {
		out := a.At(i, j)
		switch n.Activation {
		case "identity":
			return v
		case "tanh":
			return v * (1 - out*out)
		case "logistic":
			return v * out * (1 - out)
		default:
			if out <= 0 {
				return 0
			}
			return v
		}
	}, delta)
}

// forward returns the activations of every layer, input first
func (n *Perceptron) forward(x *mat.Dense, softmax bool) []*mat.Dense {
	acts := []*mat.Dense{x}
	for l, w := range n.Weights {
		r, _ := acts[l].Dims()
		_, c := w.Dims()
		z := mat.NewDense(r, c, nil)
		z.Mul(acts[l], w)
		b := n.Biases[l]
		for i := 0; i < r; i++ {
			zr := z.RawRowView(i)
			for j := range zr {
				zr[j] += b[j]
			}
		}
		last := l == len(n.Weights)-1
		switch {
		case !last:
			n.activate(z)
		case softmax:
			for i := 0; i < r; i++ {
				softmaxInPlace(z.RawRowView(i))
			}
		}
		acts = append(acts, z)
	}
	return acts
}

// train fits the network; target rows are one-hot classes or standardised values
func (n *Perceptron) train(x, target *mat.Dense, softmax bool) error {
	rows, in := x.Dims()
	if rows == 0 {
		return errors.New("cannot fit on zero samples")
	}
	_, out := target.Dims()
	rng := newRand(n.Seed)
	sizes := append(append([]int{in}, n.Hidden...), out)

	n.Weights = make([]*mat.Dense, len(sizes)-1)
	n.Biases = make([][]float64, len(sizes)-1)
	mw := make([]*mat.Dense, len(sizes)-1)
	vw := make([]*mat.Dense, len(sizes)-1)
	mb := make([][]float64, len(sizes)-1)
	vb := make([][]float64, len(sizes)-1)
	for l := 0; l < len(sizes)-1; l++ {
		bound := math.Sqrt(6 / float64(sizes[l]+sizes[l+1]))
		data := make([]float64, sizes[l]*sizes[l+1])
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * bound
		}
		n.Weights[l] = mat.NewDense(sizes[l], sizes[l+1], data)
		n.Biases[l] = make([]float64, sizes[l+1])
		for i := range n.Biases[l] {
			n.Biases[l][i] = (rng.Float64()*2 - 1) * bound
		}
		mw[l] = mat.NewDense(sizes[l], sizes[l+1], nil)
		vw[l] = mat.NewDense(sizes[l], sizes[l+1], nil)
		mb[l] = make([]float64, sizes[l+1])
		vb[l] = make([]float64, sizes[l+1])
	}

	batch := n.BatchSize
	if batch <= 0 || batch > rows {
		batch = min(200, rows)
	}
	const beta1, beta2 = 0.9, 0.999
	step := 0
	best, stale := math.Inf(1), 0

	for epoch := 0; epoch < n.MaxIter; epoch++ {
		perm := rng.Perm(rows)
		total := 0.0
		for start := 0; start < rows; start += batch {
			idx := perm[start:min(start+batch, rows)]
			xb, tb := TakeRows(x, idx), TakeRows(target, idx)
			acts := n.forward(xb, softmax)
			pred := acts[len(acts)-1]
			bs := float64(len(idx))

			delta := mat.NewDense(len(idx), out, nil)
			delta.Sub(pred, tb)
			total += n.loss(pred, tb, softmax) * bs
			delta.Scale(1/bs, delta)

			step++
			c1 := 1 - math.Pow(beta1, float64(step))
			c2 := 1 - math.Pow(beta2, float64(step))
			for l := len(n.Weights) - 1; l >= 0; l-- {
				w := n.Weights[l]
				wr, wc := w.Dims()
				grad := mat.NewDense(wr, wc, nil)
				grad.Mul(acts[l].T(), delta)
				grad.Add(grad, scaled(w, n.Alpha/bs))
				gb := make([]float64, wc)
				for i := 0; i < len(idx); i++ {
					for j, v := range delta.RawRowView(i) {
						gb[j] += v
					}
				}
				if l > 0 {
					prev := mat.NewDense(len(idx), wr, nil)
					prev.Mul(delta, w.T())
					n.derive(prev, acts[l])
					delta = prev
				}
				adam(w.RawMatrix().Data, grad.RawMatrix().Data, mw[l].RawMatrix().Data, vw[l].RawMatrix().Data, n.LearningRate, c1, c2)
				adam(n.Biases[l], gb, mb[l], vb[l], n.LearningRate, c1, c2)
			}
		}
		total /= float64(rows)
		if total > best-n.Tol {
			stale++
			if stale >= 10 {
				break
			}
		} else {
			stale = 0
		}
		best = math.Min(best, total)
	}
	return nil
}

func scaled(w *mat.Dense, f float64) *mat.Dense {
	var out mat.Dense
	out.Scale(f, w)
	return &out
}

func adam(param, grad, m, v []float64, lr, c1, c2 float64) {
	const beta1, beta2, eps = 0.9, 0.999, 1e-8
	for i := range param {
		m[i] = beta1*m[i] + (1-beta1)*grad[i]
		v[i] = beta2*v[i] + (1-beta2)*grad[i]*grad[i]
		param[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + eps)
	}
}

func (n *Perceptron) loss(pred, target *mat.Dense, softmax bool) float64 {
	r, c := pred.Dims()
	total := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			p, t := pred.At(i, j), target.At(i, j)
			if softmax {
				if t > 0 {
					total -= t * math.Log(math.Max(p, 1e-15))
				}
				continue
			}
			total += 0.5 * (p - t) * (p - t)
		}
	}
	return total / float64(r)
}

// MLPClassifier is a softmax network over standardised inputs
type MLPClassifier struct {
	Perceptron
	NClasses int
}

func (m *MLPClassifier) Fit(x *mat.Dense, y []int, nClasses int) error {
	m.NClasses = max(nClasses, 2)
	m.Scaler = fitStandardiser(x)
	return m.train(m.Scaler.apply(x), oneHotLabels(y, m.NClasses), true)
}

func (m *MLPClassifier) PredictProba(x *mat.Dense) *mat.Dense {
	acts := m.forward(m.Scaler.apply(x), true)
	return acts[len(acts)-1]
}

func (m *MLPClassifier) Predict(x *mat.Dense) []int { return argmaxRows(m.PredictProba(x)) }

// MLPRegressor is an identity-output network on standardised inputs and targets
type MLPRegressor struct {
	Perceptron
	YMean  float64
	YScale float64
}

func (m *MLPRegressor) Fit(x *mat.Dense, y []float64) error {
	m.Scaler = fitStandardiser(x)
	m.YMean, m.YScale = stat.PopMeanStdDev(y, nil)
	if m.YScale == 0 || math.IsNaN(m.YScale) {
		m.YScale = 1
	}
	target := mat.NewDense(len(y), 1, nil)
	for i, v := range y {
		target.Set(i, 0, (v-m.YMean)/m.YScale)
	}
	return m.train(m.Scaler.apply(x), target, false)
}

func (m *MLPRegressor) Predict(x *mat.Dense) []float64 {
	acts := m.forward(m.Scaler.apply(x), false)
	out := mat.Col(nil, 0, acts[len(acts)-1])
	for i := range out {
		out[i] = out[i]*m.YScale + m.YMean
	}
	return out
}

func newMLPClassifier(p Params) any { return &MLPClassifier{Perceptron: perceptronFrom(p)} }

func newMLPRegressor(p Params) any { return &MLPRegressor{Perceptron: perceptronFrom(p)} }
