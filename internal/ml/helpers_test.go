package ml

import (
	"math/rand"
	"testing"

	"churn-service/internal/dataset"

	"github.com/stretchr/testify/require"
)

var (
	testContracts = []string{"Month-to-month", "One year", "Two year"}
	testPayments  = []string{"Electronic check", "Mailed check", "Bank transfer", "Credit card"}
	testGenders   = []string{"Female", "Male"}
)

// syntheticCustomers draws n customers whose churn mostly follows contract,
// tenure, price and payment method.
func syntheticCustomers(t *testing.T, n int, seed int64) (*dataset.Frame, []int) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	customers := make([]dataset.Customer, n)
	y := make([]int, n)
	for i := range customers {
		c := dataset.Customer{
			Age:            18 + rng.Intn(60),
			Gender:         testGenders[rng.Intn(len(testGenders))],
			Tenure:         rng.Intn(72),
			MonthlyCharges: 20 + rng.Float64()*100,
			Contract:       testContracts[rng.Intn(len(testContracts))],
			PaymentMethod:  testPayments[rng.Intn(len(testPayments))],
		}
		c.TotalCharges = c.MonthlyCharges * float64(c.Tenure)

		logit := -0.5 - 0.05*float64(c.Tenure) + 0.03*(c.MonthlyCharges-70)
		if c.Contract == "Month-to-month" {
			logit += 2.5
		}
		if c.PaymentMethod == "Electronic check" {
			logit += 1
		}
		if rng.Float64() < sigmoid(logit) {
			y[i] = 1
		}
		customers[i] = c
	}

	positives := 0
	for _, label := range y {
		positives += label
	}
	require.Greater(t, positives, n/10)
	require.Less(t, positives, n*9/10)

	return dataset.FromCustomers(customers), y
}

func smallTrainConfig() TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.Forest.Trees = 20
	cfg.Forest.MaxDepth = 6
	return cfg
}
