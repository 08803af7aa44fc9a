package scoring

import (
	"fmt"
	"math"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
)

// appraisalScale keeps the appraisal regressor in units of 100 million won so
// the normal equations stay well conditioned.
const appraisalScale = 1e8

// PriceModel predicts the final sale rate (percent of appraisal) from the
// failure count and appraisal value. It is fitted once from the seed dataset
// and read-only afterwards.
type PriceModel struct {
	Version string

	// intercept, per-failure slope, per-1e8-won slope
	coef [3]float64
	r2   float64

	premium float64
	maxRate float64
}

// FitPriceModel fits an ordinary least squares model of sale_rate on
// [1, failures, appraisal/1e8] over rules.Seed. If the design matrix is
// singular it falls back to a failures-only fit, then to the mean rate.
func FitPriceModel(rules config.ModelRules) (*PriceModel, error) {
	if len(rules.Seed) == 0 {
		return nil, fmt.Errorf("scoring: model: empty seed dataset")
	}
	m := &PriceModel{
		Version: rules.Version,
		premium: rules.ScorePremium,
		maxRate: rules.MaxSaleRate,
	}
	if m.maxRate <= 0 {
		m.maxRate = 100
	}

	xs := make([][3]float64, len(rules.Seed))
	ys := make([]float64, len(rules.Seed))
	for i, s := range rules.Seed {
		xs[i] = [3]float64{1, float64(s.FailureCount), float64(s.AppraisalValue) / appraisalScale}
		ys[i] = s.SaleRate
	}

	if coef, ok := solveOLS(xs, ys, 3); ok {
		m.coef = coef
	} else if coef, ok := solveOLS(xs, ys, 2); ok {
		m.coef = coef
	} else {
		m.coef = [3]float64{mean(ys), 0, 0}
	}
	m.r2 = m.rSquared(xs, ys)
	return m, nil
}

// solveOLS solves the normal equations over the first k regressors with
// Gauss-Jordan elimination and partial pivoting.
func solveOLS(xs [][3]float64, ys []float64, k int) ([3]float64, bool) {
	var a [3][4]float64
	for n, x := range xs {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				a[i][j] += x[i] * x[j]
			}
			a[i][3] += x[i] * ys[n]
		}
	}

	for col := 0; col < k; col++ {
		pivot := col
		for r := col + 1; r < k; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-9 {
			return [3]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]

		for r := 0; r < k; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for c := col; c < k; c++ {
				a[r][c] -= f * a[col][c]
			}
			a[r][3] -= f * a[col][3]
		}
	}

	var coef [3]float64
	for i := 0; i < k; i++ {
		coef[i] = a[i][3] / a[i][i]
	}
	return coef, true
}

func (m *PriceModel) raw(x [3]float64) float64 {
	return m.coef[0]*x[0] + m.coef[1]*x[1] + m.coef[2]*x[2]
}

func (m *PriceModel) rSquared(xs [][3]float64, ys []float64) float64 {
	avg := mean(ys)
	var ssRes, ssTot float64
	for i, x := range xs {
		d := ys[i] - m.raw(x)
		ssRes += d * d
		t := ys[i] - avg
		ssTot += t * t
	}
	if ssTot == 0 {
		return 0
	}
	return clamp(1-ssRes/ssTot, 0, 1)
}

// FailureSlope is the change in predicted sale rate per prior failed round.
func (m *PriceModel) FailureSlope() float64 { return m.coef[1] }

// Confidence is the in-sample R² as a percentage.
func (m *PriceModel) Confidence() float64 { return round2(m.r2 * 100) }

// Predict returns the predicted final price and sale rate for a listing. The
// rate is capped at the configured maximum, then floored one point above the
// rate implied by the minimum sale price, so the price never falls below the
// minimum.
func (m *PriceModel) Predict(appraisal, minimum int64, failures, composite int) (int64, float64) {
	if appraisal <= 0 {
		return minimum, 0
	}
	rate := m.raw([3]float64{1, float64(failures), float64(appraisal) / appraisalScale})
	rate += float64(composite-50) * m.premium
	rate = math.Min(rate, m.maxRate)

	floor := float64(minimum)/float64(appraisal)*100 + 1
	rate = round2(math.Max(rate, floor))

	price := int64(math.Round(float64(appraisal) * rate / 100))
	if price < minimum {
		price = minimum
	}
	return price, rate
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
