package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"churn-insight/internal/cache"
	"churn-insight/internal/database"
	"churn-insight/internal/logger"
	"churn-insight/internal/models"
	"churn-insight/internal/recommend"
)

// ErrUnknownSegment is returned for a segment code with no customers.
var ErrUnknownSegment = errors.New("unknown segment")

// DashboardService serves the read side of the dashboard, cached per key.
type DashboardService struct {
	db    *database.DBManager
	cache *cache.CacheManager
	rec   *recommend.Recommender
	log   *logger.Logger
}

func NewDashboardService(db *database.DBManager, cm *cache.CacheManager, rec *recommend.Recommender, log *logger.Logger) *DashboardService {
	return &DashboardService{db: db, cache: cm, rec: rec, log: log.With("component", "dashboard")}
}

// cached returns the value under key, or loads, stores and returns it. Cache
// failures are logged and never fail the read.
func cached[T any](ctx context.Context, s *DashboardService, key string, load func() (T, error)) (T, error) {
	var v T
	if found, err := s.cache.Get(ctx, key, &v); err != nil {
		s.log.Warn("cache read failed", "key", key, "error", err)
	} else if found {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.log.Warn("cache write failed", "key", key, "error", err)
	}
	return v, nil
}

func (s *DashboardService) Segments(ctx context.Context) ([]models.SegmentSummary, error) {
	return cached(ctx, s, cache.PrefixSegments+"all", func() ([]models.SegmentSummary, error) {
		return s.db.SegmentSummaries(ctx)
	})
}

func (s *DashboardService) SegmentCustomers(ctx context.Context, segment string, limit, offset int) ([]models.RFMScoreRow, error) {
	segment = strings.ToUpper(segment)
	key := fmt.Sprintf("%s%s:%d:%d", cache.PrefixSegments, segment, limit, offset)
	return cached(ctx, s, key, func() ([]models.RFMScoreRow, error) {
		return s.db.SegmentCustomers(ctx, segment, limit, offset)
	})
}

// SegmentRecommendation returns the playbook for one segment.
func (s *DashboardService) SegmentRecommendation(ctx context.Context, segment string) (*recommend.SegmentPlaybook, error) {
	segment = strings.ToUpper(segment)
	summaries, err := s.Segments(ctx)
	if err != nil {
		return nil, err
	}
	for _, sum := range summaries {
		if sum.Segment == segment {
			pb := s.rec.ForSegment(ctx, sum)
			return &pb, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSegment, segment)
}

// CustomerDetail is one customer with scores and product advice.
type CustomerDetail struct {
	Customer       *models.Customer          `json:"customer"`
	Score          *models.RFMScoreRow       `json:"score,omitempty"`
	Recommendation *recommend.CustomerAdvice `json:"recommendation"`
}

func (s *DashboardService) Customer(ctx context.Context, id int64) (*CustomerDetail, error) {
	return cached(ctx, s, fmt.Sprintf("%s%d", cache.PrefixCustomers, id), func() (*CustomerDetail, error) {
		c, err := s.db.Customer(ctx, id)
		if err != nil {
			return nil, err
		}
		d := &CustomerDetail{Customer: c}
		var churn *float64
		score, err := s.db.RFMScore(ctx, id)
		switch {
		case err == nil:
			d.Score, churn = score, score.ChurnProbability
		case !errors.Is(err, database.ErrNotFound):
			return nil, err
		}
		advice := s.rec.ForCustomer(ctx, recommend.ProfileOf(*c, churn))
		d.Recommendation = &advice
		return d, nil
	})
}

func (s *DashboardService) LatestRun(ctx context.Context) (*models.PipelineRun, error) {
	return cached(ctx, s, cache.PrefixRuns+"latest", func() (*models.PipelineRun, error) {
		return s.db.LatestRun(ctx)
	})
}
