package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"churn-insight/internal/logger"
	"churn-insight/internal/rfm"
	"churn-insight/internal/services"
)

type TokenIssuer interface {
	IssueToken(key string) (string, time.Time, error)
}

type RFMBuilder interface {
	Build(ctx context.Context) (map[rfm.Segment]int, error)
}

type PipelineRunner interface {
	RunStored(ctx context.Context) (*services.PipelineSummary, error)
	RunCSV(ctx context.Context, path string) (*services.PipelineSummary, error)
}

// AdminHandler issues admin tokens and runs batch jobs on request. Each job
// runs at most once at a time; a concurrent trigger is refused.
type AdminHandler struct {
	auth     TokenIssuer
	rfm      RFMBuilder
	pipeline PipelineRunner
	bankCSV  string
	log      *logger.Logger

	rfmMu      sync.Mutex
	pipelineMu sync.Mutex
}

func NewAdminHandler(auth TokenIssuer, rfm RFMBuilder, pipeline PipelineRunner, bankCSV string, log *logger.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, rfm: rfm, pipeline: pipeline, bankCSV: bankCSV, log: log.With("component", "admin_api")}
}

func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	token, expires, err := h.auth.IssueToken(req.AdminKey)
	switch {
	case errors.Is(err, services.ErrAdminDisabled):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, services.ErrInvalidAdminKey):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid admin key"})
		return
	case err != nil:
		h.log.Error("token signing failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expires})
}

// BuildRFM rebuilds the RFM table synchronously.
func (h *AdminHandler) BuildRFM(c *gin.Context) {
	if !h.rfmMu.TryLock() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "RFM build already running"})
		return
	}
	defer h.rfmMu.Unlock()

	counts, err := h.rfm.Build(c.Request.Context())
	if err != nil {
		h.log.Error("rfm build failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "RFM results rebuilt", Data: counts})
}

// RunPipeline trains and scores synchronously. source=csv reads the
// configured export, anything else the stored customer table.
func (h *AdminHandler) RunPipeline(c *gin.Context) {
	if !h.pipelineMu.TryLock() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Scoring pipeline already running"})
		return
	}
	defer h.pipelineMu.Unlock()

	var (
		sum *services.PipelineSummary
		err error
	)
	if c.Query("source") == "csv" {
		sum, err = h.pipeline.RunCSV(c.Request.Context(), h.bankCSV)
	} else {
		sum, err = h.pipeline.RunStored(c.Request.Context())
	}
	if err != nil {
		h.log.Error("pipeline run failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Scoring pipeline finished", Data: sum})
}

type TokenRequest struct {
	AdminKey string `json:"admin_key" binding:"required"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
