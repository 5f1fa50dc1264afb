package services

import (
	"context"
	"fmt"
	"time"

	"churn-insight/internal/database"
	"churn-insight/internal/features"
	"churn-insight/internal/logger"
	"churn-insight/internal/rfm"
)

// RFMService rebuilds rfm_result_once from the stored customers.
type RFMService struct {
	db  *database.DBManager
	n   notifier
	log *logger.Logger
	now func() time.Time
}

func NewRFMService(db *database.DBManager, cache Invalidator, events EventSink, log *logger.Logger) *RFMService {
	return &RFMService{
		db:  db,
		n:   notifier{cache: cache, events: events},
		log: log.With("component", "rfm"),
		now: time.Now,
	}
}

// Build scores every customer against the current population and upserts the
// results. Customers no longer present keep their previous row.
func (s *RFMService) Build(ctx context.Context) (map[rfm.Segment]int, error) {
	t, err := s.db.LoadCustomerTable(ctx)
	if err != nil {
		return nil, err
	}
	records, err := features.ParseTable(t)
	if err != nil {
		return nil, fmt.Errorf("customer table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no customers to segment")
	}

	results := rfm.Compute(records, s.now().UTC())
	if err := s.db.UpsertRFMResults(ctx, rfm.Rows(results)); err != nil {
		return nil, fmt.Errorf("upsert rfm results: %w", err)
	}
	counts := rfm.Counts(results)
	s.log.Info("rfm results built", "customers", len(results),
		"vip", counts[rfm.SegmentVIP], "loyal", counts[rfm.SegmentLoyal],
		"at_risk", counts[rfm.SegmentAtRisk], "low", counts[rfm.SegmentLow])

	s.n.notify(ctx, newEvent(EventRFMBuilt, "", counts))
	return counts, nil
}
