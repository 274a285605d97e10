package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/adforge-backend/internal/platform/ctxutil"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/realtime"
	"github.com/yungbote/adforge-backend/internal/services"
)

type RealtimeHandler struct {
	log      *logger.Logger
	hub      *realtime.SSEHub
	matrices services.MatrixService
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, matrices services.MatrixService) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub, matrices: matrices}
}

// GET /api/matrices/:id/events
func (h *RealtimeHandler) MatrixEvents(c *gin.Context) {
	id, ok := matrixID(c)
	if !ok {
		return
	}
	if _, err := h.matrices.GetByID(c.Request.Context(), id); err != nil {
		respondServiceError(c, h.log, "matrix_events_failed", err)
		return
	}

	userID := uuid.Nil
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil {
		userID = rd.UserID
	}
	client := h.hub.NewSSEClient(userID)
	h.hub.AddChannel(client, realtime.MatrixChannel(id))
	defer h.hub.CloseClient(client)

	h.log.Debug("matrix event stream open", "matrix_id", id, "client_id", client.ID)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
