package dataset

// Customer is a single customer record as accepted by the scoring API.
type Customer struct {
	CustomerID     string  `json:"CustomerID,omitempty"`
	Age            int     `json:"Age"`
	Gender         string  `json:"Gender"`
	Tenure         int     `json:"Tenure"`
	MonthlyCharges float64 `json:"MonthlyCharges"`
	Contract       string  `json:"Contract"`
	PaymentMethod  string  `json:"PaymentMethod"`
	TotalCharges   float64 `json:"TotalCharges"`
	Churn          *bool   `json:"Churn,omitempty"`
}

// FromCustomers builds a frame holding the required features of customers.
func FromCustomers(customers []Customer) *Frame {
	n := len(customers)
	age := make([]float64, n)
	gender := make([]string, n)
	tenure := make([]float64, n)
	monthly := make([]float64, n)
	contract := make([]string, n)
	payment := make([]string, n)
	total := make([]float64, n)

	for i, c := range customers {
		age[i] = float64(c.Age)
		gender[i] = c.Gender
		tenure[i] = float64(c.Tenure)
		monthly[i] = c.MonthlyCharges
		contract[i] = c.Contract
		payment[i] = c.PaymentMethod
		total[i] = c.TotalCharges
	}

	f := NewFrame(n)
	_ = f.AddNumeric(ColAge, age)
	_ = f.AddText(ColGender, gender)
	_ = f.AddNumeric(ColTenure, tenure)
	_ = f.AddNumeric(ColMonthlyCharges, monthly)
	_ = f.AddText(ColContract, contract)
	_ = f.AddText(ColPaymentMethod, payment)
	_ = f.AddNumeric(ColTotalCharges, total)
	return f
}
