package explain

import "churn-service/internal/dataset"

// heuristicPriors is used when no risky trait is present in the batch.
var heuristicPriors = map[string]float64{
	dataset.ColContract:       0.25,
	dataset.ColTenure:         0.2,
	dataset.ColMonthlyCharges: 0.2,
	dataset.ColPaymentMethod:  0.2,
	dataset.ColTotalCharges:   0.15,
}

var heuristicOrder = []string{
	dataset.ColContract,
	dataset.ColTenure,
	dataset.ColMonthlyCharges,
	dataset.ColPaymentMethod,
	dataset.ColTotalCharges,
}

// HeuristicDrivers ranks global drivers by the share of risky traits among
// high-risk customers when attributions are unavailable.
func HeuristicDrivers(frame *dataset.Frame, probabilities []float64) []GlobalDriver {
	if frame.Rows() == 0 {
		return []GlobalDriver{}
	}

	r := analyseSegment(frame, probabilities)
	scores := []float64{r.monthToMonth, r.recentTenure, r.highCharges, r.electronicCheck, r.lowTotal}

	peak := 0.0
	for _, s := range scores {
		if s > peak {
			peak = s
		}
	}
	if peak <= 0 {
		for i, name := range heuristicOrder {
			scores[i] = heuristicPriors[name]
		}
	}

	return formatGlobalDrivers(heuristicOrder, scores, globalDriverLimit)
}
