package features

import (
	"bytes"
	"encoding/gob"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-insight/internal/dataset"
)

func TestCheckColumnsListsEveryMissingColumn(t *testing.T) {
	tbl := dataset.NewTable([]string{"CustomerId", "Age", "Tenure", "Balance", "NumOfProducts", "IsActiveMember", "Geography", "Exited", "HasCrCard", "Gender", "EstimatedSalary"})

	err := CheckColumns(tbl)
	var missing *MissingColumnError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"CreditScore", "Satisfaction Score", "Card Type"}, missing.Columns)
	assert.Contains(t, err.Error(), "Satisfaction Score")
}

func TestCheckColumnsIgnoresCaseAndSeparators(t *testing.T) {
	cols := []string{"customer_id", "credit_score", "age", "tenure", "balance", "num_of_products",
		"is_active_member", "geography", "satisfaction_score", "exited", "has_cr_card", "gender",
		"estimated_salary", "card_type"}
	assert.NoError(t, CheckColumns(dataset.NewTable(cols)))
}

func TestParseTableRejectsBadRows(t *testing.T) {
	base := dataset.Synthetic(3, 0.34, 1)

	dup := dataset.NewTable(base.Columns)
	require.NoError(t, dup.Append(base.Rows[0]))
	require.NoError(t, dup.Append(base.Rows[0]))
	_, err := ParseTable(dup)
	assert.ErrorContains(t, err, "appears on rows 1 and 2")

	bad := dataset.NewTable(base.Columns)
	row := append([]string(nil), base.Rows[1]...)
	row[bad.ColumnIndex("Age")] = "forty"
	require.NoError(t, bad.Append(row))
	_, err = ParseTable(bad)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Age", pe.Column)
	assert.Equal(t, 1, pe.Row)
}

func TestParseTableEmptyBalanceIsZero(t *testing.T) {
	base := dataset.Synthetic(1, 0, 1)
	row := append([]string(nil), base.Rows[0]...)
	row[base.ColumnIndex("Balance")] = ""
	tbl := dataset.NewTable(base.Columns)
	require.NoError(t, tbl.Append(row))

	recs, err := ParseTable(tbl)
	require.NoError(t, err)
	assert.Equal(t, 0.0, recs[0].Balance)
}

func TestEnrichIsDeterministic(t *testing.T) {
	tbl := dataset.Synthetic(300, 0.2, 42)
	first, err := Engineer(tbl)
	require.NoError(t, err)
	second, err := Engineer(tbl)
	require.NoError(t, err)

	encode := func(v any) []byte {
		var buf bytes.Buffer
		require.NoError(t, gob.NewEncoder(&buf).Encode(v))
		return buf.Bytes()
	}
	assert.Equal(t, encode(first), encode(second))
	require.Len(t, first, tbl.Len())
	for i, r := range first {
		assert.Equal(t, tbl.Value(i, "CustomerId"), strconv.FormatInt(r.CustomerID, 10), "row order preserved")
	}
}

func TestEnrichFlags(t *testing.T) {
	recs := []CustomerRecord{
		{CustomerID: 1, Age: 18, Geography: "Germany", Balance: 5000, NumOfProducts: 1, IsActive: false, HasCard: true, Satisfaction: 0, CardType: "GOLD", Gender: "Male"},
		{CustomerID: 2, Age: 45, Geography: "Germany", Balance: 1000, NumOfProducts: 2, IsActive: true, Satisfaction: 3, CardType: "SILVER", Gender: "Female"},
		{CustomerID: 3, Age: 51, Geography: "France", Balance: 9000, NumOfProducts: 0, IsActive: false, Satisfaction: 5, CardType: "DIAMOND", Gender: "Male"},
	}
	out := Enrich(recs)

	assert.Equal(t, AgeGroup18To30, out[0].AgeGroup)
	assert.Equal(t, AgeGroup41To50, out[1].AgeGroup)
	assert.Equal(t, AgeGroup51Plus, out[2].AgeGroup)

	assert.False(t, out[0].SeniorFlag)
	assert.True(t, out[1].SeniorFlag)

	assert.True(t, out[0].GermanyFlag)
	assert.False(t, out[2].GermanyFlag)
	// median balance is 5000; only strictly greater counts
	assert.False(t, out[0].GermanyHighBalance)
	assert.False(t, out[1].GermanyHighBalance)
	assert.False(t, out[2].GermanyHighBalance, "high balance outside the region")

	assert.Equal(t, 5000.0, out[0].BalancePerProduct)
	assert.Equal(t, 500.0, out[1].BalancePerProduct)
	assert.Equal(t, 0.0, out[2].BalancePerProduct)

	assert.True(t, out[0].LowActiveLowProduct)
	assert.False(t, out[1].LowActiveLowProduct)
	assert.False(t, out[2].LowActiveLowProduct)

	assert.Equal(t, SatisfactionLow, out[0].SatisfactionLevel)
	assert.Equal(t, SatisfactionMedium, out[1].SatisfactionLevel)
	assert.Equal(t, SatisfactionHigh, out[2].SatisfactionLevel)

	assert.Equal(t, "0_1", out[0].ActivityCard.Key())
	assert.Equal(t, "Germany_Female", out[1].GeoGender.Key())
	assert.Equal(t, "DIAMOND_0", out[2].CardTypeActivity.Key())
}

func TestGermanyHighBalanceUsesBatchMedian(t *testing.T) {
	german := CustomerRecord{CustomerID: 1, Geography: "Germany", Balance: 100}
	low := Enrich([]CustomerRecord{german, {CustomerID: 2, Balance: 10}, {CustomerID: 3, Balance: 20}})
	high := Enrich([]CustomerRecord{german, {CustomerID: 2, Balance: 500}, {CustomerID: 3, Balance: 600}})
	assert.True(t, low[0].GermanyHighBalance)
	assert.False(t, high[0].GermanyHighBalance)
}

func TestBalancePerProductNeverNaN(t *testing.T) {
	assert.Equal(t, 0.0, BalancePerProduct(125000, 0))
	assert.Equal(t, 0.0, BalancePerProduct(0, 0))
	assert.Equal(t, 50.0, BalancePerProduct(100, 2))
}

func TestAgeGroupBoundaries(t *testing.T) {
	cases := map[int]AgeGroup{
		17: AgeGroupUnknown, 18: AgeGroup18To30, 30: AgeGroup18To30, 31: AgeGroup31To40,
		40: AgeGroup31To40, 41: AgeGroup41To50, 50: AgeGroup41To50, 51: AgeGroup51Plus,
		100: AgeGroup51Plus, 101: AgeGroupUnknown,
	}
	for age, want := range cases {
		assert.Equal(t, want, AgeGroupOf(age), "age %d", age)
	}
}

func TestSatisfactionBoundaries(t *testing.T) {
	cases := map[int]SatisfactionLevel{
		0: SatisfactionLow, 2: SatisfactionLow, 3: SatisfactionMedium, 4: SatisfactionMedium,
		5: SatisfactionHigh, 6: SatisfactionUnknown,
	}
	for score, want := range cases {
		assert.Equal(t, want, SatisfactionLevelOf(score), "score %d", score)
	}
}

func TestBuildFrameFollowsFeatureColumns(t *testing.T) {
	recs, err := Engineer(dataset.Synthetic(50, 0.2, 3))
	require.NoError(t, err)
	frame, err := BuildFrame(recs)
	require.NoError(t, err)

	assert.Equal(t, FeatureColumns, frame.Names)
	assert.Equal(t, 50, frame.Rows())
	assert.Equal(t, []int{0, 1, 6, 7, 8, 9}, frame.CategoricalIndex())
	assert.Equal(t, recs[4].GeoGender.Key(), frame.Category(4, 7))
	assert.Equal(t, float64(recs[4].Age), frame.At(4, 2))
}
