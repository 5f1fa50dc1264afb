package dataset

import (
	"math"
	"math/rand"
	"strconv"
)

// CustomerColumns is the header of the bank customer export this system was
// built around.
var CustomerColumns = []string{
	"RowNumber", "CustomerId", "Surname", "CreditScore", "Geography", "Gender",
	"Age", "Tenure", "Balance", "NumOfProducts", "HasCrCard", "IsActiveMember",
	"EstimatedSalary", "Exited", "Complain", "Satisfaction Score", "Card Type", "Point Earned",
}

var (
	synthSurnames  = []string{"Hargrave", "Hill", "Onio", "Boni", "Mitchell", "Chu", "Bartlett", "Obinna", "He", "Bearce"}
	synthCardTypes = []string{"SILVER", "GOLD", "PLATINUM", "DIAMOND"}
)

// Synthetic builds n customers of which exactly round(n*churnRate) have
// Exited=1. Churners skew older, less active, more often German and hold a
// single product, so a classifier has signal to find. The same seed always
// yields the same table.
func Synthetic(n int, churnRate float64, seed int64) *Table {
	rng := rand.New(rand.NewSource(seed))
	t := NewTable(CustomerColumns)

	churners := int(math.Round(float64(n) * churnRate))
	labels := make([]int, n)
	for i := 0; i < churners; i++ {
		labels[i] = 1
	}
	rng.Shuffle(n, func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	for i := 0; i < n; i++ {
		exited := labels[i]
		churn := exited == 1

		geo := "France"
		switch r := rng.Float64(); {
		case churn && r < 0.40, !churn && r < 0.20:
			geo = "Germany"
		case r < 0.65:
			geo = "Spain"
		}
		if geo == "Spain" && rng.Float64() < 0.5 {
			geo = "France"
		}

		gender := "Male"
		if rng.Float64() < pick(churn, 0.56, 0.43) {
			gender = "Female"
		}

		age := int(math.Round(rng.NormFloat64()*8 + pick(churn, 45, 37)))
		age = clampInt(age, 18, 92)

		tenure := rng.Intn(11)
		balance := 0.0
		if rng.Float64() > pick(churn, 0.25, 0.38) {
			balance = math.Round((rng.NormFloat64()*30000+pick(churn, 125000, 115000))*100) / 100
			if balance < 0 {
				balance = 0
			}
		}

		products := 1
		switch r := rng.Float64(); {
		case churn && r < 0.70, !churn && r < 0.45:
			products = 1
		case churn && r < 0.85, !churn && r < 0.97:
			products = 2
		case r < 0.99:
			products = 3
		default:
			products = 4
		}

		hasCard := boolInt(rng.Float64() < 0.7)
		active := boolInt(rng.Float64() < pick(churn, 0.36, 0.56))
		salary := math.Round((rng.Float64()*199000+1000)*100) / 100
		credit := clampInt(int(math.Round(rng.NormFloat64()*95+pick(churn, 645, 652))), 350, 850)
		satisfaction := 1 + rng.Intn(5)
		card := synthCardTypes[rng.Intn(len(synthCardTypes))]
		points := 200 + rng.Intn(800)

		row := []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(15600000 + i + 1),
			synthSurnames[rng.Intn(len(synthSurnames))],
			strconv.Itoa(credit),
			geo,
			gender,
			strconv.Itoa(age),
			strconv.Itoa(tenure),
			strconv.FormatFloat(balance, 'f', 2, 64),
			strconv.Itoa(products),
			strconv.Itoa(hasCard),
			strconv.Itoa(active),
			strconv.FormatFloat(salary, 'f', 2, 64),
			strconv.Itoa(exited),
			strconv.Itoa(exited),
			strconv.Itoa(satisfaction),
			card,
			strconv.Itoa(points),
		}
		_ = t.Append(row)
	}
	return t
}

func pick(cond bool, a, b float64) float64 {
	if cond {
		return a
	}
	return b
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
