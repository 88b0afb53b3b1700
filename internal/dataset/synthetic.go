package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
)

var (
	syntheticContracts = []string{"Month-to-month", "One year", "Two year"}
	syntheticPayments  = []string{"Electronic check", "Mailed check", "Bank transfer", "Credit card"}
	syntheticGenders   = []string{"Female", "Male"}
)

// GenerateCustomers draws n synthetic customers and their churn labels.
// Churn odds rise with month-to-month contracts, electronic checks and high
// monthly charges, and fall with tenure. Output is deterministic per seed.
func GenerateCustomers(n int, seed int64) ([]Customer, []int) {
	rng := rand.New(rand.NewSource(seed))

	customers := make([]Customer, n)
	y := make([]int, n)
	for i := range customers {
		c := Customer{
			CustomerID:     fmt.Sprintf("CUST-%06d", i+1),
			Age:            18 + rng.Intn(63),
			Gender:         syntheticGenders[rng.Intn(len(syntheticGenders))],
			Tenure:         rng.Intn(73),
			MonthlyCharges: math.Round((18+rng.Float64()*102)*100) / 100,
			Contract:       syntheticContracts[rng.Intn(len(syntheticContracts))],
			PaymentMethod:  syntheticPayments[rng.Intn(len(syntheticPayments))],
		}
		// billing noise around tenure * monthly charges
		total := c.MonthlyCharges * float64(c.Tenure) * (0.9 + 0.2*rng.Float64())
		c.TotalCharges = math.Round(total*100) / 100

		logit := -1.0 - 0.045*float64(c.Tenure) + 0.025*(c.MonthlyCharges-65)
		switch c.Contract {
		case "Month-to-month":
			logit += 2.2
		case "Two year":
			logit -= 0.8
		}
		if c.PaymentMethod == "Electronic check" {
			logit += 0.9
		}
		if c.Age < 30 {
			logit += 0.3
		}
		if rng.Float64() < 1/(1+math.Exp(-logit)) {
			y[i] = 1
		}
		customers[i] = c
	}
	return customers, y
}

// WriteCustomersCSV writes customers with a Yes/No Churn column in the
// ExpectedColumns layout. labels may be nil to omit the target.
func WriteCustomersCSV(w io.Writer, customers []Customer, labels []int) error {
	if labels != nil && len(labels) != len(customers) {
		return fmt.Errorf("got %d labels for %d customers", len(labels), len(customers))
	}

	header := append([]string{ColCustomerID}, RequiredFeatures...)
	if labels != nil {
		header = append(header, ColChurn)
	}

	out := csv.NewWriter(w)
	if err := out.Write(header); err != nil {
		return err
	}
	for i, c := range customers {
		record := []string{
			c.CustomerID,
			strconv.Itoa(c.Age),
			c.Gender,
			strconv.Itoa(c.Tenure),
			strconv.FormatFloat(c.MonthlyCharges, 'f', 2, 64),
			c.Contract,
			c.PaymentMethod,
			strconv.FormatFloat(c.TotalCharges, 'f', 2, 64),
		}
		if labels != nil {
			label := "No"
			if labels[i] == 1 {
				label = "Yes"
			}
			record = append(record, label)
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
