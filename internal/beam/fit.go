package beam

import (
	"math"

	"codeberg.org/mutker/beamlog/internal/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Index of each fitted parameter in the parameter vector.
const (
	pH = iota
	pA
	pX0
	pY0
	pSX
	pSY
	pTheta
	nParams
)

const (
	lambdaInit = 1e-3
	lambdaMax  = 1e12
	ftol       = 1e-9
	xtol       = 1e-9
	gtol       = 1e-10
	minWidth   = 1e-9
)

// FitResult holds the outcome of a least squares fit.
type FitResult struct {
	Params     Params
	Cost       float64
	Iterations int
}

// FitWindow fits the clipped Gaussian model to win with Levenberg-Marquardt.
// The cutoff of p0 is held fixed. Coordinates are local to win.
func FitWindow(win *mat.Dense, p0 Params, maxIter int) (FitResult, error) {
	f := &fitter{win: win, cutoff: p0.Cutoff}
	p := []float64{p0.H, p0.A, p0.X0, p0.Y0, p0.SX, p0.SY, p0.Theta}

	jtj := mat.NewSymDense(nParams, nil)
	jtr := make([]float64, nParams)
	cost := f.normal(p, jtj, jtr)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return FitResult{}, leastSquareError("initial guess is not finite", 0, cost)
	}

	lambda := lambdaInit
	trial := make([]float64, nParams)
	damped := mat.NewSymDense(nParams, nil)
	step := mat.NewVecDense(nParams, nil)
	grad := mat.NewVecDense(nParams, nil)
	var chol mat.Cholesky

	// Running out of damping only counts as convergence once a step was
	// accepted; stuck at p0 the fit has not converged.
	improved := false
	stalled := func(iter int) (FitResult, error) {
		if !improved {
			return FitResult{}, leastSquareError("no step reduced the cost", iter, cost)
		}
		return f.result(p, cost, iter), nil
	}

	for iter := 1; iter <= maxIter; iter++ {
		if floats.Norm(jtr, math.Inf(1)) <= gtol || cost == 0 {
			return f.result(p, cost, iter), nil
		}

		for {
			damped.CopySym(jtj)
			for i := 0; i < nParams; i++ {
				d := jtj.At(i, i)
				damped.SetSym(i, i, d+lambda*math.Max(d, 1e-12))
			}

			for i, g := range jtr {
				grad.SetVec(i, -g)
			}

			if !chol.Factorize(damped) || chol.SolveVecTo(step, grad) != nil {
				lambda *= 10
				if lambda > lambdaMax {
					return stalled(iter)
				}
				continue
			}

			for i := range trial {
				trial[i] = p[i] + step.AtVec(i)
			}
			trialCost := f.cost(trial)
			if math.IsNaN(trialCost) {
				return FitResult{}, leastSquareError("cost is not a number", iter, trialCost)
			}

			if trialCost < cost {
				converged := cost-trialCost <= ftol*cost ||
					floats.Norm(step.RawVector().Data, 2) <= xtol*(floats.Norm(p, 2)+xtol)
				copy(p, trial)
				cost = f.normal(p, jtj, jtr)
				improved = true
				lambda = math.Max(lambda/10, 1e-15)
				if converged {
					return f.result(p, cost, iter), nil
				}
				break
			}

			lambda *= 10
			if lambda > lambdaMax {
				return stalled(iter)
			}
		}
	}

	return FitResult{}, leastSquareError("maximum number of iterations exceeded", maxIter, cost)
}

func leastSquareError(reason string, iter int, cost float64) error {
	return errors.New().WithData(ErrLeastSquare, struct {
		Reason     string
		Iterations int
		Cost       float64
	}{
		Reason:     reason,
		Iterations: iter,
		Cost:       cost,
	})
}

type fitter struct {
	win    *mat.Dense
	cutoff float64
}

func (f *fitter) result(p []float64, cost float64, iter int) FitResult {
	return FitResult{
		Params: Params{
			H:      p[pH],
			A:      p[pA],
			X0:     p[pX0],
			Y0:     p[pY0],
			SX:     p[pSX],
			SY:     p[pSY],
			Theta:  p[pTheta],
			Cutoff: f.cutoff,
		},
		Cost:       cost,
		Iterations: iter,
	}
}

// cost returns the sum of squared residuals.
func (f *fitter) cost(p []float64) float64 {
	if math.Abs(p[pSX]) < minWidth || math.Abs(p[pSY]) < minWidth {
		return math.Inf(1)
	}

	c, s := math.Cos(p[pTheta]), math.Sin(p[pTheta])
	r, cols := f.win.Dims()
	raw := f.win.RawMatrix()

	var sum float64
	for y := 0; y < r; y++ {
		for x := 0; x < cols; x++ {
			dx, dy := p[pX0]-float64(x), p[pY0]-float64(y)
			u := (dx*c - dy*s) / p[pSX]
			v := (dx*s + dy*c) / p[pSY]
			m := math.Min(p[pH]+p[pA]*math.Exp(-(u*u+v*v)/2), f.cutoff)
			res := m - raw.Data[y*raw.Stride+x]
			sum += res * res
		}
	}
	return sum
}

// normal accumulates J'J and J'r for the residuals at p and returns the cost.
// Pixels where the model is clipped contribute no gradient.
func (f *fitter) normal(p []float64, jtj *mat.SymDense, jtr []float64) float64 {
	var acc [nParams][nParams]float64
	for i := range jtr {
		jtr[i] = 0
	}

	sx, sy := p[pSX], p[pSY]
	if math.Abs(sx) < minWidth || math.Abs(sy) < minWidth {
		return math.Inf(1)
	}

	c, s := math.Cos(p[pTheta]), math.Sin(p[pTheta])
	sx2, sy2 := sx*sx, sy*sy
	r, cols := f.win.Dims()
	raw := f.win.RawMatrix()

	var cost float64
	var j [nParams]float64
	for y := 0; y < r; y++ {
		for x := 0; x < cols; x++ {
			dx, dy := p[pX0]-float64(x), p[pY0]-float64(y)
			u := dx*c - dy*s
			v := dx*s + dy*c
			e := math.Exp(-(u*u/sx2 + v*v/sy2) / 2)
			g := p[pH] + p[pA]*e

			var res float64
			if g > f.cutoff {
				res = f.cutoff - raw.Data[y*raw.Stride+x]
				cost += res * res
				continue
			}
			res = g - raw.Data[y*raw.Stride+x]
			cost += res * res

			ae := p[pA] * e
			j[pH] = 1
			j[pA] = e
			j[pX0] = -ae * (u*c/sx2 + v*s/sy2)
			j[pY0] = ae * (u*s/sx2 - v*c/sy2)
			j[pSX] = ae * u * u / (sx2 * sx)
			j[pSY] = ae * v * v / (sy2 * sy)
			j[pTheta] = ae * u * v * (1/sx2 - 1/sy2)

			for a := 0; a < nParams; a++ {
				jtr[a] += j[a] * res
				for b := a; b < nParams; b++ {
					acc[a][b] += j[a] * j[b]
				}
			}
		}
	}

	for a := 0; a < nParams; a++ {
		for b := a; b < nParams; b++ {
			jtj.SetSym(a, b, acc[a][b])
		}
	}
	return cost
}
