package ml

import (
	"fmt"

	"churn-service/internal/dataset"
)

// ExampleClient is a named demo customer printed after training.
type ExampleClient struct {
	Label    string
	Customer dataset.Customer
}

// ExampleClients returns a high-risk and a loyal demo customer.
func ExampleClients() []ExampleClient {
	return []ExampleClient{
		{Label: "Client A", Customer: dataset.Customer{
			Age: 58, Gender: "Female", Tenure: 4, MonthlyCharges: 119.9,
			Contract: "Month-to-month", PaymentMethod: "Electronic check", TotalCharges: 420.5,
		}},
		{Label: "Client B", Customer: dataset.Customer{
			Age: 37, Gender: "Male", Tenure: 62, MonthlyCharges: 45.2,
			Contract: "Two year", PaymentMethod: "Bank transfer", TotalCharges: 2810.7,
		}},
	}
}

// ExamplePredictions scores the demo customers and formats one line each,
// e.g. "Client A -> 0.87 (87% risque)".
func ExamplePredictions(p *Predictor) ([]string, error) {
	clients := ExampleClients()
	lines := make([]string, 0, len(clients))
	for _, c := range clients {
		proba, percent, err := p.PredictChurnProba(c.Customer)
		if err != nil {
			return nil, fmt.Errorf("failed to score %s: %w", c.Label, err)
		}
		lines = append(lines, fmt.Sprintf("%s -> %.2f (%s risque)", c.Label, proba, percent))
	}
	return lines, nil
}
