package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeColumn(t *testing.T) {
	for _, name := range []string{"Satisfaction Score", "satisfaction_score", "SatisfactionScore", " satisfaction-score "} {
		assert.Equal(t, "satisfactionscore", NormalizeColumn(name), name)
	}
}

func TestTableLookupIgnoresSpelling(t *testing.T) {
	tbl := NewTable([]string{"CustomerId", "Card Type"})
	require.NoError(t, tbl.Append([]string{" 15634602 ", "DIAMOND"}))

	assert.True(t, tbl.Has("customer_id"))
	assert.False(t, tbl.Has("Exited"))
	assert.Equal(t, 1, tbl.ColumnIndex("card_type"))
	assert.Equal(t, "15634602", tbl.Value(0, "customerid"))
	assert.Equal(t, "", tbl.Value(0, "Exited"))
	assert.Equal(t, "", tbl.Value(3, "CustomerId"))

	assert.Error(t, tbl.Append([]string{"1"}))
}

func TestDecodeCSV(t *testing.T) {
	in := "\ufeffCustomerId,Age\n1,42\n\n2,37\n"
	tbl, err := DecodeCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"CustomerId", "Age"}, tbl.Columns)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "37", tbl.Value(1, "Age"))

	_, err = DecodeCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = DecodeCSV(strings.NewReader("a,b\n1,2,3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestWriteCSVLeavesNoTempFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	path := filepath.Join(dir, "scores.csv")
	tbl := NewTable([]string{"customer_id", "churn_probability"})
	require.NoError(t, tbl.Append([]string{"1", "0.25"}))

	require.NoError(t, WriteCSV(path, tbl))
	back, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, back.Columns)
	assert.Equal(t, tbl.Rows, back.Rows)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSyntheticChurnCountAndDeterminism(t *testing.T) {
	a := Synthetic(333, 0.2, 9)
	b := Synthetic(333, 0.2, 9)
	assert.Equal(t, a.Rows, b.Rows)
	assert.Equal(t, CustomerColumns, a.Columns)

	churners := 0
	ids := map[string]bool{}
	for i := range a.Rows {
		if a.Value(i, "Exited") == "1" {
			churners++
		}
		ids[a.Value(i, "CustomerId")] = true
	}
	assert.Equal(t, 67, churners) // round(333*0.2)
	assert.Len(t, ids, 333)

	assert.NotEqual(t, a.Rows, Synthetic(333, 0.2, 10).Rows)
}
