package explain

import (
	"fmt"
	"math"
	"strings"

	"churn-service/internal/dataset"
)

const (
	contractMonthToMonth   = "month-to-month"
	paymentElectronicCheck = "electronic check"
	recentTenureMonths     = 12.0
	lowTotalCharges        = 1000.0
	globalRatioThreshold   = 0.10

	defaultClientAdvice    = "Maintenir un suivi proactif de la rétention avec des actions personnalisées."
	priorityGlobalAdvice   = "Prioriser les clients à risque élevé avec une offre de rétention immédiate"
	monitoringGlobalAdvice = "Maintenir un pilotage proactif des segments clients et suivre les signaux de résiliation."
)

func normalized(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// uniqueList appends messages once, keeping first-seen order.
type uniqueList []string

func (l *uniqueList) add(msg string) {
	for _, m := range *l {
		if m == msg {
			return
		}
	}
	*l = append(*l, msg)
}

// BuildRecommendations returns the retention actions for one customer.
func BuildRecommendations(c dataset.Customer) []string {
	var recs uniqueList
	if normalized(c.Contract) == contractMonthToMonth {
		recs.add("Proposer une offre avec engagement 12 ou 24 mois incluant une remise.")
	}
	if float64(c.Tenure) < recentTenureMonths {
		recs.add("Mettre en place une stratégie de fidélisation personnalisée.")
	}
	if normalized(c.PaymentMethod) == paymentElectronicCheck {
		recs.add("Encourager l'adoption de moyens de paiement automatiques (prélèvement, carte bancaire).")
	}
	if c.MonthlyCharges >= MonthlyChargesHigh {
		recs.add("Réévaluer la politique tarifaire et proposer une offre groupée adaptée.")
	}
	if len(recs) == 0 {
		recs.add(defaultClientAdvice)
	}
	return recs
}

// segmentRatios holds the share of risky traits in an analysed population.
type segmentRatios struct {
	monthToMonth    float64
	recentTenure    float64
	highCharges     float64
	electronicCheck float64
	lowTotal        float64
}

// analyseSegment measures risky traits among high-risk rows, or among all rows
// when none is high risk.
func analyseSegment(frame *dataset.Frame, probabilities []float64) segmentRatios {
	rows := make([]int, 0, len(probabilities))
	for i, p := range probabilities {
		if p >= HighRiskThreshold {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		for i := 0; i < frame.Rows(); i++ {
			rows = append(rows, i)
		}
	}

	contract := textColumn(frame, dataset.ColContract)
	payment := textColumn(frame, dataset.ColPaymentMethod)
	tenure := numericColumn(frame, dataset.ColTenure)
	monthly := numericColumn(frame, dataset.ColMonthlyCharges)
	total := numericColumn(frame, dataset.ColTotalCharges)

	var r segmentRatios
	for _, i := range rows {
		if normalized(contract(i)) == contractMonthToMonth {
			r.monthToMonth++
		}
		if tenure(i) < recentTenureMonths {
			r.recentTenure++
		}
		if monthly(i) >= MonthlyChargesHigh {
			r.highCharges++
		}
		if normalized(payment(i)) == paymentElectronicCheck {
			r.electronicCheck++
		}
		if total(i) < lowTotalCharges {
			r.lowTotal++
		}
	}

	n := float64(len(rows))
	if n < 1 {
		n = 1
	}
	r.monthToMonth /= n
	r.recentTenure /= n
	r.highCharges /= n
	r.electronicCheck /= n
	r.lowTotal /= n
	return r
}

// textColumn returns an accessor yielding "" when the column is absent.
func textColumn(frame *dataset.Frame, name string) func(int) string {
	col, ok := frame.Column(name)
	if !ok {
		return func(int) string { return "" }
	}
	return col.String
}

// numericColumn returns an accessor yielding 0 for absent or missing cells.
func numericColumn(frame *dataset.Frame, name string) func(int) float64 {
	col, ok := frame.Column(name)
	if !ok {
		return func(int) float64 { return 0 }
	}
	return func(i int) float64 {
		if v := col.Float(i); !math.IsNaN(v) {
			return v
		}
		return 0
	}
}

// BuildGlobalRecommendations returns portfolio-level actions for a scored
// batch.
func BuildGlobalRecommendations(frame *dataset.Frame, probabilities []float64) []string {
	recs := uniqueList{priorityGlobalAdvice}
	r := analyseSegment(frame, probabilities)

	if r.monthToMonth >= globalRatioThreshold {
		recs.add("Proposer un engagement 12/24 mois avec remise pour réduire le churn des contrats mensuels")
	}
	if r.recentTenure >= globalRatioThreshold {
		recs.add("Mettre en place une stratégie de fidélisation pour les clients récents (< 12 mois)")
	}
	if r.electronicCheck >= globalRatioThreshold {
		recs.add("Encourager les moyens de paiement automatiques (prélèvement/carte) via une incitation")
	}
	if r.highCharges >= globalRatioThreshold {
		recs.add("Proposer une offre groupée ou ajustement tarifaire pour réduire la sensibilité au prix")
	}
	if len(recs) == 1 {
		recs.add(monitoringGlobalAdvice)
	}
	return recs
}

var driverInterpretations = map[string]string{
	dataset.ColContract:       "Les contrats mensuels augmentent fortement le risque de résiliation",
	dataset.ColTenure:         "Une ancienneté faible reflète une fidélité limitée et un risque accru",
	dataset.ColMonthlyCharges: "Des frais mensuels élevés traduisent une sensibilité importante au prix",
	dataset.ColPaymentMethod:  "Le paiement par chèque électronique est associé à un risque de résiliation plus élevé",
	dataset.ColTotalCharges:   "Le niveau des dépenses cumulées influence la stabilité de la relation client",
	dataset.ColAge:            "Le profil d'âge contribue à la variabilité du risque selon les segments clients",
	dataset.ColGender:         "Le segment de genre présente une influence secondaire sur le risque observé",
}

// DriverInterpretation explains what a global driver means for the business.
func DriverInterpretation(feature string) string {
	if text, ok := driverInterpretations[feature]; ok {
		return text
	}
	return fmt.Sprintf("Le facteur %s présente une contribution notable au risque de résiliation", feature)
}

// Attribution directions.
const (
	DirectionIncreases = "increases"
	DirectionDecreases = "decreases"
)

// HumanExplanation phrases a single-customer driver in French.
func HumanExplanation(feature, direction string, c dataset.Customer) string {
	contract := normalized(c.Contract)
	increases := direction == DirectionIncreases

	switch feature {
	case dataset.ColContract:
		if contract == contractMonthToMonth && increases {
			return "Un contrat mensuel (sans engagement) augmente le risque de résiliation."
		}
		if (contract == "one year" || contract == "two year") && !increases {
			return "Un contrat avec engagement contribue à réduire le risque de résiliation."
		}
	case dataset.ColTenure:
		if float64(c.Tenure) < recentTenureMonths && increases {
			return "Une ancienneté faible indique une fidélité limitée et augmente le risque de résiliation."
		}
	case dataset.ColMonthlyCharges:
		if c.MonthlyCharges >= MonthlyChargesHigh && increases {
			return "Des frais mensuels élevés renforcent la sensibilité au prix et augmentent le risque de résiliation."
		}
		if !increases {
			return "Le niveau des frais mensuels contribue à réduire le risque de résiliation."
		}
	case dataset.ColPaymentMethod:
		if normalized(c.PaymentMethod) == paymentElectronicCheck && increases {
			return "Le paiement par chèque électronique est associé à un risque de résiliation plus élevé."
		}
	}

	if increases {
		return fmt.Sprintf("Le facteur '%s' augmente le risque de résiliation.", feature)
	}
	return fmt.Sprintf("Le facteur '%s' contribue à réduire le risque de résiliation.", feature)
}
