package estimators

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// LinearModel is a fitted linear predictor y = Xw + b
type LinearModel struct {
	Weights   []float64
	Intercept float64
}

func (l *LinearModel) predict(x *mat.Dense) []float64 {
	r, _ := x.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = floats.Dot(row(x, i), l.Weights) + l.Intercept
	}
	return out
}

func (l *LinearModel) Coefficients() [][]float64 { return [][]float64{l.Weights} }

// fitRidge solves the centred ridge problem; alpha may be 0 for ordinary least squares
func fitRidge(x *mat.Dense, y []float64, alpha float64, intercept bool) (LinearModel, error) {
	r, c := x.Dims()
	if r == 0 {
		return LinearModel{}, errors.New("cannot fit on zero samples")
	}
	xm := make([]float64, c)
	ym := 0.0
	if intercept {
		xm = colMeans(x)
		ym = floats.Sum(y) / float64(r)
	}
	xc := mat.NewDense(r, c, nil)
	yc := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		src, dst := row(x, i), xc.RawRowView(i)
		for j := range src {
			dst[j] = src[j] - xm[j]
		}
		yc.SetVec(i, y[i]-ym)
	}

	var a mat.Dense
	a.Mul(xc.T(), xc)
	for j := 0; j < c; j++ {
		a.Set(j, j, a.At(j, j)+math.Max(alpha, 1e-10))
	}
	var b mat.VecDense
	b.MulVec(xc.T(), yc)
	var w mat.VecDense
	if err := w.SolveVec(&a, &b); err != nil {
		return LinearModel{}, fmt.Errorf("solving normal equations: %w", err)
	}
	weights := append([]float64(nil), w.RawVector().Data...)
	return LinearModel{Weights: weights, Intercept: ym - floats.Dot(xm, weights)}, nil
}

// LinearRegression is ordinary least squares
type LinearRegression struct {
	FitIntercept bool
	LinearModel
}

func (m *LinearRegression) Fit(x *mat.Dense, y []float64) error {
	lm, err := fitRidge(x, y, 0, m.FitIntercept)
	m.LinearModel = lm
	return err
}

func (m *LinearRegression) Predict(x *mat.Dense) []float64 { return m.predict(x) }

// Ridge is L2-penalised least squares
type Ridge struct {
	Alpha        float64
	FitIntercept bool
	LinearModel
}

func (m *Ridge) Fit(x *mat.Dense, y []float64) error {
	lm, err := fitRidge(x, y, m.Alpha, m.FitIntercept)
	m.LinearModel = lm
	return err
}

func (m *Ridge) Predict(x *mat.Dense) []float64 { return m.predict(x) }

// RidgeCV picks the ridge penalty with the lowest k-fold squared error
type RidgeCV struct {
	Alphas []float64
	Folds  int
	Alpha  float64
	LinearModel
}

func (m *RidgeCV) Fit(x *mat.Dense, y []float64) error {
	r, _ := x.Dims()
	folds := min(max(m.Folds, 2), r)
	best, bestErr := m.Alphas[0], math.Inf(1)
	for _, alpha := range m.Alphas {
		sse := 0.0
		for f := 0; f < folds; f++ {
			var train, test []int
			for i := 0; i < r; i++ {
				if i%folds == f {
					test = append(test, i)
				} else {
					train = append(train, i)
				}
			}
			if len(train) == 0 || len(test) == 0 {
				continue
			}
			lm, err := fitRidge(TakeRows(x, train), pick(y, train), alpha, true)
			if err != nil {
				return err
			}
			pred := lm.predict(TakeRows(x, test))
			for k, i := range test {
				d := pred[k] - y[i]
				sse += d * d
			}
		}
		if sse < bestErr {
			best, bestErr = alpha, sse
		}
	}
	m.Alpha = best
	lm, err := fitRidge(x, y, best, true)
	m.LinearModel = lm
	return err
}

func (m *RidgeCV) Predict(x *mat.Dense) []float64 { return m.predict(x) }

func pick(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = v[i]
	}
	return out
}

func pickInts(v []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = v[i]
	}
	return out
}

// ElasticNet minimises 1/(2n)||y - Xw||² + α·ρ||w||₁ + α(1-ρ)/2·||w||² by coordinate descent.
// Lasso is the ρ = 1 case.
type ElasticNet struct {
	Alpha        float64
	L1Ratio      float64
	MaxIter      int
	Tol          float64
	FitIntercept bool
	LinearModel
}

func (m *ElasticNet) Fit(x *mat.Dense, y []float64) error {
	r, c := x.Dims()
	if r == 0 {
		return errors.New("cannot fit on zero samples")
	}
	xm := make([]float64, c)
	ym := 0.0
	if m.FitIntercept {
		xm = colMeans(x)
		ym = floats.Sum(y) / float64(r)
	}
	cols := make([][]float64, c)
	norms := make([]float64, c)
	for j := 0; j < c; j++ {
		cols[j] = make([]float64, r)
		for i := 0; i < r; i++ {
			cols[j][i] = x.At(i, j) - xm[j]
		}
		norms[j] = floats.Dot(cols[j], cols[j]) / float64(r)
	}
	resid := make([]float64, r)
	for i := range resid {
		resid[i] = y[i] - ym
	}

	w := make([]float64, c)
	l1 := m.Alpha * m.L1Ratio
	l2 := m.Alpha * (1 - m.L1Ratio)
	for iter := 0; iter < m.MaxIter; iter++ {
		maxDelta, maxW := 0.0, 0.0
		for j := 0; j < c; j++ {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			rho := floats.Dot(cols[j], resid)/float64(r) + norms[j]*old
			w[j] = softThreshold(rho, l1) / (norms[j] + l2)
			if d := w[j] - old; d != 0 {
				floats.AddScaled(resid, -d, cols[j])
				maxDelta = math.Max(maxDelta, math.Abs(d))
			}
			maxW = math.Max(maxW, math.Abs(w[j]))
		}
		if maxW == 0 || maxDelta/maxW < m.Tol {
			break
		}
	}
	m.LinearModel = LinearModel{Weights: w, Intercept: ym - floats.Dot(xm, w)}
	return nil
}

func (m *ElasticNet) Predict(x *mat.Dense) []float64 { return m.predict(x) }

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	}
	return 0
}

// LogisticRegression is L2-penalised binomial or multinomial logistic regression
// solved with L-BFGS on standardised inputs.
type LogisticRegression struct {
	C            float64
	MaxIter      int
	FitIntercept bool
	NClasses     int
	Scaler       standardiser
	// W holds one row of weights per output followed by the intercept
	W [][]float64
}

func (m *LogisticRegression) outputs() int {
	if m.NClasses <= 2 {
		return 1
	}
	return m.NClasses
}

func (m *LogisticRegression) Fit(x *mat.Dense, y []int, nClasses int) error {
	r, c := x.Dims()
	if r == 0 {
		return errors.New("cannot fit on zero samples")
	}
	m.NClasses = nClasses
	m.Scaler = fitStandardiser(x)
	xs := m.Scaler.apply(x)
	k := m.outputs()
	width := c + 1
	lambda := 1 / math.Max(m.C, 1e-12)

	scores := make([]float64, k)
	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			loss := 0.0
			for i := 0; i < r; i++ {
				m.scoresInto(scores, w, row(xs, i), width)
				if k == 1 {
					z := scores[0]
					if y[i] == 1 {
						loss += softplus(-z)
					} else {
						loss += softplus(z)
					}
					continue
				}
				mx := floats.Max(scores)
				lse := 0.0
				for _, s := range scores {
					lse += math.Exp(s - mx)
				}
				loss += mx + math.Log(lse) - scores[y[i]]
			}
			return loss + 0.5*lambda*m.penalty(w, width)
		},
		Grad: func(grad, w []float64) {
			for j := range grad {
				grad[j] = 0
			}
			for i := 0; i < r; i++ {
				xi := row(xs, i)
				m.scoresInto(scores, w, xi, width)
				if k == 1 {
					t := 0.0
					if y[i] == 1 {
						t = 1
					}
					m.accumulate(grad[:width], xi, sigmoid(scores[0])-t)
					continue
				}
				softmaxInPlace(scores)
				for o := 0; o < k; o++ {
					t := 0.0
					if y[i] == o {
						t = 1
					}
					m.accumulate(grad[o*width:(o+1)*width], xi, scores[o]-t)
				}
			}
			for o := 0; o < k; o++ {
				for j := 0; j < width-1; j++ {
					grad[o*width+j] += lambda * w[o*width+j]
				}
			}
		},
	}

	init := make([]float64, k*width)
	settings := &optimize.Settings{MajorIterations: m.MaxIter, GradientThreshold: 1e-6}
	result, err := optimize.Minimize(problem, init, settings, &optimize.LBFGS{})
	if result == nil {
		return fmt.Errorf("logistic regression did not converge: %w", err)
	}

	m.W = make([][]float64, k)
	for o := 0; o < k; o++ {
		m.W[o] = append([]float64(nil), result.X[o*width:(o+1)*width]...)
	}
	return nil
}

func softplus(z float64) float64 {
	if z > 30 {
		return z
	}
	return math.Log1p(math.Exp(z))
}

func (m *LogisticRegression) penalty(w []float64, width int) float64 {
	p := 0.0
	for o := 0; o*width < len(w); o++ {
		for j := 0; j < width-1; j++ {
			v := w[o*width+j]
			p += v * v
		}
	}
	return p
}

func (m *LogisticRegression) scoresInto(dst, w, xi []float64, width int) {
	for o := range dst {
		ww := w[o*width : (o+1)*width]
		s := floats.Dot(ww[:width-1], xi)
		if m.FitIntercept {
			s += ww[width-1]
		}
		dst[o] = s
	}
}

func (m *LogisticRegression) accumulate(grad, xi []float64, d float64) {
	floats.AddScaled(grad[:len(xi)], d, xi)
	if m.FitIntercept {
		grad[len(xi)] += d
	}
}

func (m *LogisticRegression) DecisionFunction(x *mat.Dense) *mat.Dense {
	xs := m.Scaler.apply(x)
	r, c := xs.Dims()
	k := m.outputs()
	flat := make([]float64, 0, k*(c+1))
	for _, w := range m.W {
		flat = append(flat, w...)
	}
	out := mat.NewDense(r, max(m.NClasses, 2), nil)
	scores := make([]float64, k)
	for i := 0; i < r; i++ {
		m.scoresInto(scores, flat, row(xs, i), c+1)
		if k == 1 {
			out.Set(i, 0, -scores[0])
			out.Set(i, 1, scores[0])
			continue
		}
		out.SetRow(i, scores)
	}
	return out
}

func (m *LogisticRegression) PredictProba(x *mat.Dense) *mat.Dense {
	out := m.DecisionFunction(x)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		v := out.RawRowView(i)
		if m.outputs() == 1 {
			p := sigmoid(v[1])
			v[0], v[1] = 1-p, p
			continue
		}
		softmaxInPlace(v)
	}
	return out
}

func (m *LogisticRegression) Predict(x *mat.Dense) []int { return argmaxRows(m.DecisionFunction(x)) }

// Coefficients returns weights on the original feature scale
func (m *LogisticRegression) Coefficients() [][]float64 {
	out := make([][]float64, len(m.W))
	for o, w := range m.W {
		coef := make([]float64, len(w)-1)
		for j := range coef {
			coef[j] = w[j] / m.Scaler.Scale[j]
		}
		out[o] = coef
	}
	return out
}
