package evaluation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics summarizes regression quality.
type Metrics struct {
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
	MAPE float64 `json:"mape"`
}

// mapeEpsilon guards MAPE against zero targets.
var mapeEpsilon = math.Nextafter(1, 2) - 1

// ComputeMetrics compares predictions against targets.
func ComputeMetrics(yTrue, yPred []float64) (Metrics, error) {
	if len(yTrue) != len(yPred) {
		return Metrics{}, fmt.Errorf("targets (%d) and predictions (%d) differ in length", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Metrics{}, fmt.Errorf("no samples to score")
	}

	n := float64(len(yTrue))
	var sse, sae, sape float64
	for i, y := range yTrue {
		d := y - yPred[i]
		sse += d * d
		sae += math.Abs(d)
		sape += math.Abs(d) / math.Max(math.Abs(y), mapeEpsilon)
	}

	m := Metrics{
		MSE:  sse / n,
		MAE:  sae / n,
		MAPE: sape / n,
	}
	m.RMSE = math.Sqrt(m.MSE)

	mean := stat.Mean(yTrue, nil)
	var sst float64
	for _, y := range yTrue {
		sst += (y - mean) * (y - mean)
	}
	switch {
	case sst > 0:
		m.R2 = 1 - sse/sst
	case sse == 0:
		m.R2 = 1
	default:
		m.R2 = 0
	}
	return m, nil
}

// MeanSquaredError returns the mean of squared residuals.
func MeanSquaredError(yTrue, yPred []float64) (float64, error) {
	m, err := ComputeMetrics(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return m.MSE, nil
}
