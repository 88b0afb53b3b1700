// Package explain turns churn probabilities into business explanations:
// risk tiers, Shapley attributions over the customer features, French
// recommendations and portfolio-level insights for uploaded batches.
package explain

import "errors"

var (
	// ErrUnsupportedModel is returned when the pipeline does not expose its
	// preprocessor and classifier steps.
	ErrUnsupportedModel = errors.New("pipeline must expose 'preprocessor' and 'classifier' steps")

	// ErrAttribution is returned when feature attributions cannot be computed.
	ErrAttribution = errors.New("unable to compute feature attributions")
)

// Risk thresholds on the churn probability.
const (
	MediumRiskThreshold = 0.40
	HighRiskThreshold   = 0.70

	// MonthlyChargesHigh marks price-sensitive customers.
	MonthlyChargesHigh = 70.0
)

const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"

	RiskFaible = "FAIBLE"
	RiskMoyen  = "MOYEN"
	RiskEleve  = "ÉLEVÉ"
)

// RiskLevel buckets a churn probability.
func RiskLevel(p float64) string {
	switch {
	case p < MediumRiskThreshold:
		return RiskLow
	case p < HighRiskThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

var frenchRiskLevels = map[string]string{
	RiskLow:    RiskFaible,
	RiskMedium: RiskMoyen,
	RiskHigh:   RiskEleve,
}

// FrenchRiskLevel is RiskLevel with French labels.
func FrenchRiskLevel(p float64) string {
	return frenchRiskLevels[RiskLevel(p)]
}

// GlobalRiskLevel rates a portfolio by its share of high-risk customers.
func GlobalRiskLevel(highRiskRate float64) string {
	switch {
	case highRiskRate >= 0.30:
		return RiskEleve
	case highRiskRate >= 0.10:
		return RiskMoyen
	default:
		return RiskFaible
	}
}
