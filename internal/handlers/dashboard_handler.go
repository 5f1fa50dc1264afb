package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"churn-insight/internal/database"
	"churn-insight/internal/logger"
	"churn-insight/internal/models"
	"churn-insight/internal/recommend"
	"churn-insight/internal/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// DashboardReader is the read side the dashboard endpoints need.
type DashboardReader interface {
	Segments(ctx context.Context) ([]models.SegmentSummary, error)
	SegmentCustomers(ctx context.Context, segment string, limit, offset int) ([]models.RFMScoreRow, error)
	SegmentRecommendation(ctx context.Context, segment string) (*recommend.SegmentPlaybook, error)
	Customer(ctx context.Context, id int64) (*services.CustomerDetail, error)
	LatestRun(ctx context.Context) (*models.PipelineRun, error)
}

type DashboardHandler struct {
	dash DashboardReader
	log  *logger.Logger
}

func NewDashboardHandler(dash DashboardReader, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{dash: dash, log: log.With("component", "dashboard_api")}
}

// GetSegments returns per-segment counts, mean R/F/M and mean churn probability.
func (h *DashboardHandler) GetSegments(c *gin.Context) {
	segments, err := h.dash.Segments(c.Request.Context())
	if err != nil {
		h.fail(c, "segments", err)
		return
	}
	c.JSON(http.StatusOK, SegmentsResponse{Segments: segments, GeneratedAt: time.Now()})
}

// GetSegmentCustomers pages through one segment, highest value and risk first.
func (h *DashboardHandler) GetSegmentCustomers(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 500"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "offset must be a non-negative integer"})
		return
	}

	segment := c.Param("code")
	rows, err := h.dash.SegmentCustomers(c.Request.Context(), segment, limit, offset)
	if err != nil {
		h.fail(c, "segment customers", err)
		return
	}
	c.JSON(http.StatusOK, SegmentCustomersResponse{
		Segment:   segment,
		Limit:     limit,
		Offset:    offset,
		Customers: rows,
	})
}

func (h *DashboardHandler) GetSegmentRecommendation(c *gin.Context) {
	pb, err := h.dash.SegmentRecommendation(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "segment recommendation", err)
		return
	}
	c.JSON(http.StatusOK, pb)
}

// GetCustomer returns one customer's scores and product recommendation.
func (h *DashboardHandler) GetCustomer(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "customer id must be a positive integer"})
		return
	}
	detail, err := h.dash.Customer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "customer", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *DashboardHandler) GetLatestRun(c *gin.Context) {
	run, err := h.dash.LatestRun(c.Request.Context())
	if err != nil {
		h.fail(c, "latest run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *DashboardHandler) fail(c *gin.Context, what string, err error) {
	if errors.Is(err, database.ErrNotFound) || errors.Is(err, services.ErrUnknownSegment) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	h.log.Error("dashboard read failed", "what", what, "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch " + what})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SegmentsResponse struct {
	Segments    []models.SegmentSummary `json:"segments"`
	GeneratedAt time.Time               `json:"generated_at"`
}

type SegmentCustomersResponse struct {
	Segment   string               `json:"segment"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
	Customers []models.RFMScoreRow `json:"customers"`
}
