package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"churn-insight/internal/logger"
	"churn-insight/internal/models"
)

func openTestDB(t *testing.T) *DBManager {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	m, err := Open(Options{
		Driver: DriverSQLite,
		URL:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func rfmRow(id int64, r, f, mScore int, segment string) models.RFMResult {
	return models.RFMResult{
		CustomerID: id, RecencyDays: 365, Frequency: 2, Monetary: 1000,
		RScore: r, FScore: f, MScore: mScore, RFMCode: fmt.Sprintf("%d%d%d", r, f, mScore),
		Segment: segment, BuiltAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestUpsertCustomersAndLoadTable(t *testing.T) {
	m := openTestDB(t)
	ctx := context.Background()
	customers := []models.Customer{
		{CustomerID: 2, Surname: "Hill", CreditScore: 600, Geography: "Spain", Gender: "Female", Age: 41, Tenure: 1,
			Balance: 83807.86, NumOfProducts: 1, IsActiveMember: true, EstimatedSalary: 112542.58,
			SatisfactionScore: 3, CardType: "GOLD", PointEarned: 456},
		{CustomerID: 1, Surname: "Hargrave", CreditScore: 619, Geography: "France", Gender: "Female", Age: 42, Tenure: 2,
			NumOfProducts: 1, HasCrCard: true, IsActiveMember: true, EstimatedSalary: 101348.88, Exited: 1, Complain: true,
			SatisfactionScore: 2, CardType: "DIAMOND", PointEarned: 464},
	}
	require.NoError(t, m.UpsertCustomers(ctx, customers))

	customers[0].Age = 42
	require.NoError(t, m.UpsertCustomers(ctx, customers[:1]))

	tbl, err := m.LoadCustomerTable(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "1", tbl.Value(0, "CustomerId"))
	assert.Equal(t, "42", tbl.Value(1, "Age"))
	assert.Equal(t, "1", tbl.Value(0, "HasCrCard"))
	assert.Equal(t, "0", tbl.Value(1, "Exited"))
	assert.Equal(t, "DIAMOND", tbl.Value(0, "Card Type"))
	assert.Equal(t, "83807.86", tbl.Value(1, "Balance"))

	c, err := m.Customer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Hill", c.Surname)
	_, err = m.Customer(ctx, 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpsertRFMResultsIsIdempotent(t *testing.T) {
	m := openTestDB(t)
	ctx := context.Background()
	rows := []models.RFMResult{rfmRow(1, 5, 5, 5, "VIP"), rfmRow(2, 1, 1, 5, "AT_RISK")}

	require.NoError(t, m.UpsertRFMResults(ctx, rows))
	first, err := m.RFMResults(ctx)
	require.NoError(t, err)
	require.NoError(t, m.UpsertRFMResults(ctx, rows))
	second, err := m.RFMResults(ctx)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].RFMCode, second[i].RFMCode)
		assert.Equal(t, first[i].Segment, second[i].Segment)
		assert.True(t, first[i].BuiltAt.Equal(second[i].BuiltAt))
	}

	// existing rows update in place, missing ones stay
	require.NoError(t, m.UpsertRFMResults(ctx, []models.RFMResult{rfmRow(1, 3, 3, 3, "LOW")}))
	third, err := m.RFMResults(ctx)
	require.NoError(t, err)
	require.Len(t, third, 2)
	assert.Equal(t, "LOW", third[0].Segment)
	assert.Equal(t, "AT_RISK", third[1].Segment)
}

func TestReplaceChurnScoresDropsMissingCustomers(t *testing.T) {
	m := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, m.ReplaceChurnScores(ctx, []models.ChurnScore{
		{CustomerID: 1, ChurnProbability: 0.1, ScoredAt: now},
		{CustomerID: 2, ChurnProbability: 0.9, ScoredAt: now},
	}))
	require.NoError(t, m.ReplaceChurnScores(ctx, []models.ChurnScore{
		{CustomerID: 2, ChurnProbability: 0.4, ScoredAt: now},
		{CustomerID: 3, ChurnProbability: 0.7, ScoredAt: now},
	}))

	scores, err := m.ChurnScores(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, int64(2), scores[0].CustomerID)
	assert.Equal(t, 0.4, scores[0].ChurnProbability)
	assert.Equal(t, int64(3), scores[1].CustomerID)
}

func TestRFMScoreViewLeftJoinsScores(t *testing.T) {
	m := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.UpsertRFMResults(ctx, []models.RFMResult{
		rfmRow(1, 5, 5, 5, "VIP"), rfmRow(2, 4, 4, 5, "VIP"), rfmRow(3, 5, 4, 5, "VIP"), rfmRow(4, 1, 1, 5, "AT_RISK"),
	}))
	require.NoError(t, m.ReplaceChurnScores(ctx, []models.ChurnScore{
		{CustomerID: 1, ChurnProbability: 0.2, ScoredAt: time.Now()},
		{CustomerID: 2, ChurnProbability: 0.8, ScoredAt: time.Now()},
	}))

	// queries work before the view exists
	before, err := m.SegmentCustomers(ctx, "VIP", 10, 0)
	require.NoError(t, err)
	require.Len(t, before, 3)

	require.NoError(t, m.CreateRFMScoreView(ctx))
	require.NoError(t, m.CreateRFMScoreView(ctx), "view creation is repeatable")

	rows, err := m.SegmentCustomers(ctx, "VIP", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(2), rows[0].CustomerID)
	assert.Equal(t, int64(1), rows[1].CustomerID)
	assert.Equal(t, int64(3), rows[2].CustomerID)
	assert.Nil(t, rows[2].ChurnProbability)
	require.NotNil(t, rows[0].ChurnProbability)
	assert.Equal(t, 0.8, *rows[0].ChurnProbability)

	page, err := m.SegmentCustomers(ctx, "VIP", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].CustomerID)

	summaries, err := m.SegmentSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "AT_RISK", summaries[0].Segment)
	assert.Nil(t, summaries[0].AvgChurnProbability)
	assert.Equal(t, "VIP", summaries[1].Segment)
	assert.Equal(t, int64(3), summaries[1].Customers)
	require.NotNil(t, summaries[1].AvgChurnProbability)
	assert.InDelta(t, 0.5, *summaries[1].AvgChurnProbability, 1e-9)

	one, err := m.RFMScore(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "AT_RISK", one.Segment)
	_, err = m.RFMScore(ctx, 42)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateRFMScoreViewWithoutRFMTable(t *testing.T) {
	m := openTestDB(t)
	require.NoError(t, m.WriteDB.Migrator().DropTable(&models.RFMResult{}))

	err := m.CreateRFMScoreView(context.Background())
	assert.True(t, errors.Is(err, ErrViewDependencyMissing))
	assert.Contains(t, err.Error(), "rfm_result_once")
}

func TestPipelineRunLog(t *testing.T) {
	m := openTestDB(t)
	ctx := context.Background()
	_, err := m.LatestRun(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, m.InsertRun(ctx, &models.PipelineRun{ID: "a", StartedAt: base, Status: "succeeded"}))
	require.NoError(t, m.InsertRun(ctx, &models.PipelineRun{ID: "b", StartedAt: base.Add(time.Hour), Status: "failed", Error: "boom"}))

	run, err := m.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", run.ID)
	assert.Equal(t, "boom", run.Error)
}

func TestGetReadDBRoundRobin(t *testing.T) {
	m := openTestDB(t)
	assert.Same(t, m.WriteDB, m.GetReadDB())

	a, b := m.WriteDB.Session(&gorm.Session{}), m.WriteDB.Session(&gorm.Session{})
	m.ReadDBs = append(m.ReadDBs, a, b)
	assert.Same(t, a, m.GetReadDB())
	assert.Same(t, b, m.GetReadDB())
	assert.Same(t, a, m.GetReadDB())
}

func TestPing(t *testing.T) {
	m := openTestDB(t)
	require.NoError(t, m.Ping(context.Background()))
}
