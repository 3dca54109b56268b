package cron

import (
	"net/http"

	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/service"
	"github.com/flexprice/dunning/internal/types"
	"github.com/gin-gonic/gin"
)

// DunningCronHandler lets an external scheduler trigger the dunning jobs
type DunningCronHandler struct {
	sweeper service.DunningSweeper
	relay   service.OutboxRelay
	logger  *logger.Logger
}

func NewDunningCronHandler(
	sweeper service.DunningSweeper,
	relay service.OutboxRelay,
	logger *logger.Logger,
) *DunningCronHandler {
	return &DunningCronHandler{
		sweeper: sweeper,
		relay:   relay,
		logger:  logger,
	}
}

// RunSweep runs one dunning sweep and returns its counters
func (h *DunningCronHandler) RunSweep(c *gin.Context) {
	ctx := types.SetActor(c.Request.Context(), types.DefaultActor)
	h.logger.Infow("starting dunning sweep cron job", "request_id", types.GetRequestID(ctx))

	result, err := h.sweeper.RunOnce(ctx)
	if err != nil {
		h.logger.Errorw("failed to run dunning sweep", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed dunning sweep cron job",
		"retries", result.Retries,
		"initial_charges", result.InitialCharges,
		"generated", result.Generated,
		"failed", result.Failed,
	)
	c.JSON(http.StatusOK, result)
}

// RelayOutbox publishes one batch of pending outbox messages
func (h *DunningCronHandler) RelayOutbox(c *gin.Context) {
	result, err := h.relay.RelayOnce(c.Request.Context())
	if err != nil {
		h.logger.Errorw("failed to relay outbox", "error", err)
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
