package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/http/response"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/prediction"
	"github.com/yungbote/neurobridge-struggle/internal/services"
)

type StruggleHandler struct {
	svc services.StruggleService
}

func NewStruggleHandler(svc services.StruggleService) *StruggleHandler {
	return &StruggleHandler{svc: svc}
}

func badRequest(c *gin.Context, err error) {
	response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
}

// POST /api/struggle/signals
func (h *StruggleHandler) IngestSignal(c *gin.Context) {
	var ev struggle.SignalEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.IngestSignal(c.Request.Context(), ev, services.SourceHTTP)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

type startSessionRequest struct {
	SessionKey struggle.SessionKey   `json:"session_key"`
	Metadata   map[string]string     `json:"metadata"`
	Consent    struggle.ConsentLevel `json:"consent"`
	Idempotent bool                  `json:"idempotent"`
}

// POST /api/struggle/sessions/start
func (h *StruggleHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	handle, err := h.svc.StartSession(c.Request.Context(), req.SessionKey, struggle.StartOptions{
		Metadata:   req.Metadata,
		Consent:    req.Consent,
		Idempotent: req.Idempotent,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if handle.Existing {
		response.RespondOK(c, handle)
		return
	}
	response.RespondCreated(c, handle)
}

type sessionKeyRequest struct {
	SessionKey struggle.SessionKey `json:"session_key"`
}

// POST /api/struggle/sessions/end
func (h *StruggleHandler) EndSession(c *gin.Context) {
	var req sessionKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sum, err := h.svc.EndSession(c.Request.Context(), req.SessionKey)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, sum)
}

// GET /api/struggle/sessions/status?session_key=tenant/learner[/course]
func (h *StruggleHandler) GetStatus(c *gin.Context) {
	key, err := struggle.ParseSessionKey(c.Query("session_key"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	snap, err := h.svc.GetStatus(c.Request.Context(), key)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}

type predictRequest struct {
	SessionKey    struggle.SessionKey `json:"session_key"`
	CognitiveLoad *float64            `json:"cognitive_load"`
}

// POST /api/struggle/predictions
func (h *StruggleHandler) Predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.svc.Predict(c.Request.Context(), req.SessionKey, prediction.Inputs{CognitiveLoad: req.CognitiveLoad})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

type outcomeRequest struct {
	SessionKey struggle.SessionKey `json:"session_key"`
	struggle.OutcomePatch
}

// POST /api/struggle/interventions/:id/outcome
func (h *StruggleHandler) RecordOutcome(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		badRequest(c, fmt.Errorf("missing intervention id"))
		return
	}
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.RecordOutcome(c.Request.Context(), req.SessionKey, id, req.OutcomePatch)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rec)
}

// GET /api/struggle/metrics
func (h *StruggleHandler) Metrics(c *gin.Context) {
	response.RespondOK(c, h.svc.Stats())
}
