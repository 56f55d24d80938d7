package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/http/response"
	"github.com/yungbote/neurobridge-struggle/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
	"github.com/yungbote/neurobridge-struggle/internal/realtime"
	"github.com/yungbote/neurobridge-struggle/internal/services"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.Hub
	svc services.StruggleService
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub, svc services.StruggleService) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub, svc: svc}
}

// Stream serves intervention events for one session, or for a whole tenant
// when called with ?tenant_id= by a service principal.
//
// GET /api/struggle/sessions/stream?session_key=...
func (h *RealtimeHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		channel string
		learner string
	)
	if raw := c.Query("session_key"); raw != "" {
		key, err := struggle.ParseSessionKey(raw)
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
		if err := h.svc.Authorize(ctx, key); err != nil {
			response.RespondAPIError(c, err)
			return
		}
		channel, learner = realtime.LearnerChannel(key), key.LearnerID
	} else {
		tenant := strings.TrimSpace(c.Query("tenant_id"))
		if tenant == "" {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", struggle.ErrInvalidSessionKey)
			return
		}
		if p := ctxutil.GetPrincipal(ctx); p != nil && (!p.Service || p.TenantID != tenant) {
			response.RespondAPIError(c, struggle.ErrForbidden)
			return
		}
		channel = realtime.TenantChannel(tenant)
	}

	client := h.hub.NewClient(learner)
	defer h.hub.CloseClient(client)
	h.hub.AddChannel(client, channel)
	h.log.Debug("stream open", "client_id", client.ID.String(), "channel", channel)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
