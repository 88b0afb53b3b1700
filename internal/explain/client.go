package explain

import (
	"context"
	"fmt"
	"math"
	"sort"

	"churn-service/internal/dataset"
	"churn-service/internal/ml"
)

// topDriverCount is the number of drivers reported per customer.
const topDriverCount = 3

// Driver is one feature's contribution to a customer's churn probability.
type Driver struct {
	Feature          string  `json:"feature"`
	Direction        string  `json:"direction"`
	ShapValue        float64 `json:"shap_value"`
	HumanExplanation string  `json:"human_explanation"`
}

// Explanation is the response of a single-customer explanation.
type Explanation struct {
	Probability     float64  `json:"probability"`
	Churn           bool     `json:"churn"`
	RiskLevel       string   `json:"risk_level"`
	TopDrivers      []Driver `json:"top_drivers"`
	Recommendations []string `json:"recommendations"`
}

// ClientBackground builds the reference population used to explain c:
// three fixed archetypes plus two variants perturbed around c.
func ClientBackground(c dataset.Customer) *dataset.Frame {
	age, tenure := float64(c.Age), float64(c.Tenure)
	monthly, total := c.MonthlyCharges, c.TotalCharges

	f := dataset.NewFrame(5)
	_ = f.AddNumeric(dataset.ColAge, []float64{30, 42, 57, math.Max(18, age-12), math.Min(90, age+8)})
	_ = f.AddText(dataset.ColGender, []string{"Female", "Male", "Female", "Male", "Female"})
	_ = f.AddNumeric(dataset.ColTenure, []float64{3, 18, 48, math.Max(0, tenure-8), tenure + 12})
	_ = f.AddNumeric(dataset.ColMonthlyCharges, []float64{85, 65, 55, math.Max(10, monthly-20), monthly + 15})
	_ = f.AddText(dataset.ColContract, []string{"Month-to-month", "One year", "Two year", "Month-to-month", "One year"})
	_ = f.AddText(dataset.ColPaymentMethod, []string{"Electronic check", "Bank transfer", "Credit card", "Mailed check", "Bank transfer"})
	_ = f.AddNumeric(dataset.ColTotalCharges, []float64{255, 1170, 2640, math.Max(0, total-300), total + 400})
	return f
}

// ExplainClient scores c and explains the three strongest drivers of its
// churn probability.
func ExplainClient(ctx context.Context, model *ml.Pipeline, c dataset.Customer) (*Explanation, error) {
	explainer, err := NewExplainer(model, dataset.RequiredFeatures)
	if err != nil {
		return nil, err
	}

	frame := dataset.FromCustomers([]dataset.Customer{c})
	proba, err := model.PredictProba(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedModel, err)
	}
	p := proba[0]

	attribution, err := explainer.Explain(ctx, frame, ClientBackground(c), 1)
	if err != nil {
		return nil, err
	}
	if len(attribution.Values) == 0 {
		return nil, ErrAttribution
	}

	return &Explanation{
		Probability:     ml.RoundTo(p, 4),
		Churn:           p >= 0.5,
		RiskLevel:       RiskLevel(p),
		TopDrivers:      topDrivers(attribution.Players, attribution.Values[0], c),
		Recommendations: BuildRecommendations(c),
	}, nil
}

func topDrivers(players []string, values []float64, c dataset.Customer) []Driver {
	order := make([]int, len(players))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(values[order[a]]) > math.Abs(values[order[b]])
	})

	n := topDriverCount
	if n > len(order) {
		n = len(order)
	}
	drivers := make([]Driver, 0, n)
	for _, i := range order[:n] {
		direction := DirectionIncreases
		if values[i] < 0 {
			direction = DirectionDecreases
		}
		drivers = append(drivers, Driver{
			Feature:          players[i],
			Direction:        direction,
			ShapValue:        ml.RoundTo(values[i], 4),
			HumanExplanation: HumanExplanation(players[i], direction, c),
		})
	}
	return drivers
}
