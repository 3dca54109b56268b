package v1

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/flexprice/dunning/internal/api/dto"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/service"
	"github.com/flexprice/dunning/internal/types"
	"github.com/gin-gonic/gin"
)

// DunningHandler exposes the dunning administration API
type DunningHandler struct {
	adminService   service.DunningAdminService
	metricsService service.RecoveryMetricsService
	clock          types.Clock
	log            *logger.Logger
}

func NewDunningHandler(
	adminService service.DunningAdminService,
	metricsService service.RecoveryMetricsService,
	clock types.Clock,
	log *logger.Logger,
) *DunningHandler {
	return &DunningHandler{
		adminService:   adminService,
		metricsService: metricsService,
		clock:          clock,
		log:            log,
	}
}

// GetDunningStatus returns the dunning state of a subscription
// @Summary Get dunning status
// @Tags Dunning
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Subscription ID"
// @Success 200 {object} dto.DunningStatusResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /dunning/subscriptions/{id} [get]
func (h *DunningHandler) GetDunningStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("subscription id is required").Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.adminService.GetDunningStatus(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListActiveCases lists invoices that are past due
// @Summary List dunning cases
// @Tags Dunning
// @Produce json
// @Security ApiKeyAuth
// @Param filter query types.DunningCaseFilter false "Filter"
// @Success 200 {object} dto.ListDunningCasesResponse
// @Router /dunning/cases [get]
func (h *DunningHandler) ListActiveCases(c *gin.Context) {
	filter := types.NewDunningCaseFilter()
	if err := c.ShouldBindQuery(filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid filter parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.adminService.ListActiveCases(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetRecoveryMetrics aggregates retry attempts over [from, to). The
// default period is the last 30 days. format=csv returns the per attempt
// rows as a CSV download.
// @Summary Get recovery metrics
// @Tags Dunning
// @Produce json
// @Produce text/csv
// @Security ApiKeyAuth
// @Param from query string false "Start of the period (RFC3339)"
// @Param to query string false "End of the period (RFC3339)"
// @Param format query string false "json or csv"
// @Success 200 {object} dunning.RecoveryMetrics
// @Router /dunning/metrics [get]
func (h *DunningHandler) GetRecoveryMetrics(c *gin.Context) {
	var req dto.RecoveryMetricsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid metrics period").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(h.clock.Now()); err != nil {
		c.Error(err)
		return
	}

	ctx := c.Request.Context()
	if req.Format == "csv" {
		var buf bytes.Buffer
		if err := h.metricsService.ExportCSV(ctx, *req.From, *req.To, &buf); err != nil {
			c.Error(err)
			return
		}
		filename := fmt.Sprintf("recovery_metrics_%s_%s.csv", req.From.Format("20060102"), req.To.Format("20060102"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, "text/csv", buf.Bytes())
		return
	}

	resp, err := h.metricsService.GetRecoveryMetrics(ctx, *req.From, *req.To)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ForceRetry charges the open invoice now
// @Summary Force a retry
// @Tags Dunning
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Subscription ID"
// @Param request body dto.ForceRetryRequest false "Request"
// @Success 200 {object} dto.DunningActionResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /dunning/subscriptions/{id}/retry [post]
func (h *DunningHandler) ForceRetry(c *gin.Context) {
	var req dto.ForceRetryRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	resp, err := h.adminService.ForceRetry(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ExtendGracePeriod pushes the grace deadline and the next retry
// @Summary Extend the grace period
// @Tags Dunning
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Subscription ID"
// @Param request body dto.ExtendGracePeriodRequest true "Request"
// @Success 200 {object} dto.DunningActionResponse
// @Router /dunning/subscriptions/{id}/extend-grace [post]
func (h *DunningHandler) ExtendGracePeriod(c *gin.Context) {
	var req dto.ExtendGracePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.adminService.ExtendGracePeriod(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelImmediately ends dunning and cancels the subscription
// @Summary Cancel a subscription in dunning
// @Tags Dunning
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Subscription ID"
// @Param request body dto.CancelDunningRequest true "Request"
// @Success 200 {object} dto.DunningActionResponse
// @Router /dunning/subscriptions/{id}/cancel [post]
func (h *DunningHandler) CancelImmediately(c *gin.Context) {
	var req dto.CancelDunningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.adminService.CancelImmediately(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RecordEmailEngagement is called by the email tracking provider
// @Summary Record an email open or click
// @Tags Dunning
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Dunning email ID"
// @Param request body dto.RecordEmailEngagementRequest true "Request"
// @Success 200 {object} dunning.DunningEmail
// @Router /dunning/emails/{id}/engagement [post]
func (h *DunningHandler) RecordEmailEngagement(c *gin.Context) {
	var req dto.RecordEmailEngagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.adminService.RecordEmailEngagement(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
