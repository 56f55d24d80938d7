package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Rules maps engine errors onto HTTP answers.
var Rules = []apierr.Rule{
	{Target: struggle.ErrInvalidSignal, Status: http.StatusBadRequest, Code: "invalid_signal"},
	{Target: struggle.ErrInvalidSessionKey, Status: http.StatusBadRequest, Code: "invalid_session_key"},
	{Target: struggle.ErrInvalidConsent, Status: http.StatusBadRequest, Code: "invalid_consent"},
	{Target: struggle.ErrInvalidPredictionInput, Status: http.StatusBadRequest, Code: "invalid_prediction_input"},
	{Target: struggle.ErrInvalidOutcome, Status: http.StatusBadRequest, Code: "invalid_outcome"},
	{Target: struggle.ErrForbidden, Status: http.StatusForbidden, Code: "forbidden"},
	{Target: struggle.ErrSessionNotFound, Status: http.StatusNotFound, Code: "session_not_found"},
	{Target: struggle.ErrInterventionNotFound, Status: http.StatusNotFound, Code: "intervention_not_found"},
	{Target: struggle.ErrAlreadyActive, Status: http.StatusConflict, Code: "already_active"},
	{Target: struggle.ErrInsufficientData, Status: http.StatusUnprocessableEntity, Code: "insufficient_data"},
	{Target: struggle.ErrCapacityExceeded, Status: http.StatusServiceUnavailable, Code: "capacity_exceeded"},
	{Target: struggle.ErrStorageUnavailable, Status: http.StatusServiceUnavailable, Code: "storage_unavailable"},
	{Target: struggle.ErrCorruptSession, Status: http.StatusInternalServerError, Code: "corrupt_session"},
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError classifies err and writes the envelope. Internal errors
// are not echoed to the client.
func RespondAPIError(c *gin.Context, err error) {
	ae := apierr.Classify(err, Rules)
	_ = c.Error(err)
	if ae.Status >= http.StatusInternalServerError && !errors.Is(err, struggle.ErrCapacityExceeded) && !errors.Is(err, struggle.ErrStorageUnavailable) {
		RespondError(c, ae.Status, ae.Code, errors.New(http.StatusText(ae.Status)))
		return
	}
	RespondError(c, ae.Status, ae.Code, ae)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
