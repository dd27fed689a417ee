package estimators

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SGDConfig configures the stochastic linear learners
type SGDConfig struct {
	Loss         string
	Penalty      string
	Alpha        float64
	L1Ratio      float64
	MaxIter      int
	Tol          float64
	Epsilon      float64
	LearningRate string
	Eta0         float64
	PowerT       float64
	// PassiveAggressive switches to PA-I updates with aggressiveness C
	PassiveAggressive bool
	C                 float64
	// AlphaFromC derives the penalty from C and the sample count as liblinear does
	AlphaFromC bool
	Seed       int
}

func sgdConfigFrom(p Params, loss string) SGDConfig {
	return SGDConfig{
		Loss:         p.String("loss", loss),
		Penalty:      p.String("penalty", "l2"),
		Alpha:        p.Float("alpha", 1e-4),
		L1Ratio:      p.Float("l1_ratio", 0.15),
		MaxIter:      max(1, p.Int("max_iter", 1000)),
		Tol:          p.Float("tol", 1e-3),
		Epsilon:      p.Float("epsilon", 0.1),
		LearningRate: p.String("learning_rate", "optimal"),
		Eta0:         p.Float("eta0", 0.01),
		PowerT:       p.Float("power_t", 0.25),
		C:            p.Float("C", 1),
		Seed:         p.Int("random_state", 42),
	}
}

// dloss returns the derivative of the loss with respect to the score and the loss itself
func (c SGDConfig) dloss(score, y float64) (float64, float64) {
	z := score * y
	switch c.Loss {
	case "log_loss":
		return -y * sigmoid(-z), softplus(-z)
	case "modified_huber":
		switch {
		case z >= 1:
			return 0, 0
		case z >= -1:
			return -2 * y * (1 - z), (1 - z) * (1 - z)
		default:
			return -4 * y, -4 * z
		}
	case "squared_hinge":
		if z < 1 {
			return -2 * y * (1 - z), (1 - z) * (1 - z)
		}
		return 0, 0
	case "perceptron":
		if z <= 0 {
			return -y, -z
		}
		return 0, 0
	case "squared_error":
		d := score - y
		return d, 0.5 * d * d
	case "huber":
		d := score - y
		if math.Abs(d) <= c.Epsilon {
			return d, 0.5 * d * d
		}
		return c.Epsilon * math.Copysign(1, d), c.Epsilon * (math.Abs(d) - c.Epsilon/2)
	case "epsilon_insensitive":
		d := score - y
		if math.Abs(d) > c.Epsilon {
			return math.Copysign(1, d), math.Abs(d) - c.Epsilon
		}
		return 0, 0
	case "squared_epsilon_insensitive":
		d := score - y
		if math.Abs(d) > c.Epsilon {
			e := math.Abs(d) - c.Epsilon
			return 2 * math.Copysign(e, d), e * e
		}
		return 0, 0
	default: // hinge
		if z < 1 {
			return -y, 1 - z
		}
		return 0, 0
	}
}

func (c SGDConfig) eta(t int) float64 {
	switch c.LearningRate {
	case "constant":
		return c.Eta0
	case "invscaling":
		return c.Eta0 / math.Pow(float64(t), c.PowerT)
	default:
		alpha := math.Max(c.Alpha, 1e-12)
		return 1 / (alpha * (1/alpha + float64(t)))
	}
}

// fitLinearSGD fits one linear scorer against targets y (±1 labels for classification)
func (c SGDConfig) fitLinearSGD(x *mat.Dense, y []float64) (LinearModel, error) {
	r, d := x.Dims()
	if r == 0 {
		return LinearModel{}, errors.New("cannot fit on zero samples")
	}
	if c.AlphaFromC {
		c.Alpha = 1 / (math.Max(c.C, 1e-12) * float64(r))
	}
	rng := newRand(c.Seed)
	w := make([]float64, d)
	b := 0.0
	t := 1
	best := math.Inf(1)
	stale := 0

	for epoch := 0; epoch < c.MaxIter; epoch++ {
		total := 0.0
		for _, i := range rng.Perm(r) {
			xi := row(x, i)
			score := floats.Dot(w, xi) + b
			g, loss := c.dloss(score, y[i])
			total += loss

			if c.PassiveAggressive {
				norm := floats.Dot(xi, xi) + 1
				if loss > 0 && g != 0 {
					tau := math.Min(c.C, loss/norm)
					dir := -math.Copysign(1, g)
					floats.AddScaled(w, tau*dir, xi)
					b += tau * dir
				}
				t++
				continue
			}

			eta := c.eta(t)
			switch c.Penalty {
			case "l2":
				floats.Scale(1-eta*c.Alpha, w)
			case "elasticnet":
				floats.Scale(1-eta*c.Alpha*(1-c.L1Ratio), w)
			}
			if g != 0 {
				floats.AddScaled(w, -eta*g, xi)
				b -= eta * g
			}
			if c.Penalty == "l1" || c.Penalty == "elasticnet" {
				l1 := eta * c.Alpha
				if c.Penalty == "elasticnet" {
					l1 *= c.L1Ratio
				}
				for j := range w {
					w[j] = softThreshold(w[j], l1)
				}
			}
			t++
		}
		if c.Tol > 0 {
			if total > best-c.Tol*float64(r) {
				stale++
				if stale >= 5 {
					break
				}
			} else {
				stale = 0
			}
			best = math.Min(best, total)
		}
	}
	return LinearModel{Weights: w, Intercept: b}, nil
}

// SGDClassifier is a one-vs-rest linear classifier trained by stochastic gradient descent
type SGDClassifier struct {
	Config   SGDConfig
	NClasses int
	Scaler   standardiser
	Models   []LinearModel
}

func (m *SGDClassifier) Fit(x *mat.Dense, y []int, nClasses int) error {
	m.NClasses = nClasses
	m.Scaler = fitStandardiser(x)
	xs := m.Scaler.apply(x)
	outputs := nClasses
	if nClasses <= 2 {
		outputs = 1
	}
	m.Models = make([]LinearModel, outputs)
	for o := 0; o < outputs; o++ {
		target := o
		if outputs == 1 {
			target = 1
		}
		signs := make([]float64, len(y))
		for i, c := range y {
			signs[i] = -1
			if c == target {
				signs[i] = 1
			}
		}
		lm, err := m.Config.fitLinearSGD(xs, signs)
		if err != nil {
			return err
		}
		m.Models[o] = lm
	}
	return nil
}

func (m *SGDClassifier) DecisionFunction(x *mat.Dense) *mat.Dense {
	xs := m.Scaler.apply(x)
	r, _ := xs.Dims()
	out := mat.NewDense(r, max(m.NClasses, 2), nil)
	if len(m.Models) == 1 {
		s := m.Models[0].predict(xs)
		for i, v := range s {
			out.Set(i, 0, -v)
			out.Set(i, 1, v)
		}
		return out
	}
	for o, lm := range m.Models {
		out.SetCol(o, lm.predict(xs))
	}
	return out
}

// PredictProba is only meaningful for probabilistic losses
func (m *SGDClassifier) PredictProba(x *mat.Dense) *mat.Dense {
	scores := m.DecisionFunction(x)
	r, k := scores.Dims()
	out := mat.NewDense(r, k, nil)
	for i := 0; i < r; i++ {
		s := scores.RawRowView(i)
		p := out.RawRowView(i)
		if len(m.Models) == 1 {
			pos := m.probability(s[1])
			p[0], p[1] = 1-pos, pos
			continue
		}
		sum := 0.0
		for o := range p {
			p[o] = m.probability(s[o])
			sum += p[o]
		}
		if sum == 0 {
			for o := range p {
				p[o] = 1 / float64(k)
			}
			continue
		}
		floats.Scale(1/sum, p)
	}
	return out
}

func (m *SGDClassifier) probability(score float64) float64 {
	if m.Config.Loss == "modified_huber" {
		return (math.Min(math.Max(score, -1), 1) + 1) / 2
	}
	return sigmoid(score)
}

func (m *SGDClassifier) HasProba() bool {
	return m.Config.Loss == "log_loss" || m.Config.Loss == "modified_huber"
}

func (m *SGDClassifier) Predict(x *mat.Dense) []int { return argmaxRows(m.DecisionFunction(x)) }

// Coefficients returns weights on the original feature scale
func (m *SGDClassifier) Coefficients() [][]float64 {
	out := make([][]float64, len(m.Models))
	for o, lm := range m.Models {
		coef := make([]float64, len(lm.Weights))
		for j := range coef {
			coef[j] = lm.Weights[j] / m.Scaler.Scale[j]
		}
		out[o] = coef
	}
	return out
}

// SGDRegressor is a linear regressor trained by stochastic gradient descent on
// standardised inputs and targets.
type SGDRegressor struct {
	Config SGDConfig
	Scaler standardiser
	YMean  float64
	YScale float64
	Model  LinearModel
}

func (m *SGDRegressor) Fit(x *mat.Dense, y []float64) error {
	m.Scaler = fitStandardiser(x)
	xs := m.Scaler.apply(x)
	m.YMean = floats.Sum(y) / float64(len(y))
	m.YScale = 0
	for _, v := range y {
		m.YScale += (v - m.YMean) * (v - m.YMean)
	}
	m.YScale = math.Sqrt(m.YScale / float64(len(y)))
	if m.YScale == 0 {
		m.YScale = 1
	}
	ys := make([]float64, len(y))
	for i, v := range y {
		ys[i] = (v - m.YMean) / m.YScale
	}
	lm, err := m.Config.fitLinearSGD(xs, ys)
	m.Model = lm
	return err
}

func (m *SGDRegressor) Predict(x *mat.Dense) []float64 {
	out := m.Model.predict(m.Scaler.apply(x))
	for i := range out {
		out[i] = out[i]*m.YScale + m.YMean
	}
	return out
}

func (m *SGDRegressor) Coefficients() [][]float64 {
	coef := make([]float64, len(m.Model.Weights))
	for j := range coef {
		coef[j] = m.Model.Weights[j] * m.YScale / m.Scaler.Scale[j]
	}
	return [][]float64{coef}
}

func newSGDClassifier(p Params) any {
	return &SGDClassifier{Config: sgdConfigFrom(p, "hinge")}
}

func newLinearSVC(p Params) any {
	cfg := sgdConfigFrom(p, "squared_hinge")
	cfg.AlphaFromC = true
	cfg.Penalty = p.String("penalty", "l2")
	return &SGDClassifier{Config: cfg}
}

func newPassiveAggressiveClassifier(p Params) any {
	cfg := sgdConfigFrom(p, "hinge")
	cfg.PassiveAggressive = true
	cfg.Penalty = "none"
	return &SGDClassifier{Config: cfg}
}

func newSGDRegressor(p Params) any {
	cfg := sgdConfigFrom(p, "squared_error")
	cfg.LearningRate = p.String("learning_rate", "invscaling")
	return &SGDRegressor{Config: cfg}
}

func newLinearSVR(p Params) any {
	cfg := sgdConfigFrom(p, "epsilon_insensitive")
	cfg.Epsilon = p.Float("epsilon", 0)
	cfg.AlphaFromC = true
	cfg.LearningRate = "invscaling"
	return &SGDRegressor{Config: cfg}
}

func newPassiveAggressiveRegressor(p Params) any {
	cfg := sgdConfigFrom(p, "epsilon_insensitive")
	cfg.PassiveAggressive = true
	cfg.Penalty = "none"
	return &SGDRegressor{Config: cfg}
}
