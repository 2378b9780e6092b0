package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
)

// errorStatus maps a service error onto its HTTP status and response code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidCode):
		return http.StatusBadRequest, response.ErrInvalidAccessCode
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, service.ErrInvalidSignal):
		return http.StatusBadRequest, response.ErrInvalidSignal
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case errors.Is(err, service.ErrSubmissionNotFound):
		return http.StatusNotFound, response.ErrSessionUnavailable
	case errors.Is(err, service.ErrTokenInvalid):
		return http.StatusUnauthorized, response.ErrTokenInvalid
	}

	switch service.Classify(err) {
	case service.KindNotStarted:
		return http.StatusForbidden, response.ErrAttemptNotStarted
	case service.KindExpired:
		return http.StatusForbidden, response.ErrAttemptExpired
	case service.KindAlreadySubmitted:
		return http.StatusConflict, response.ErrAlreadySubmitted
	case service.KindCapacity:
		return http.StatusConflict, response.ErrAttemptFull
	case service.KindConfiguration:
		return http.StatusServiceUnavailable, response.ErrNotConfigured
	case service.KindGrading:
		return http.StatusBadGateway, response.ErrGradingFailed
	default:
		return http.StatusServiceUnavailable, response.ErrTemporaryFailure
	}
}

// failWith writes the error envelope for err. Student-facing outcomes are
// logged at debug, transient failures at warn.
func failWith(c *gin.Context, log zerolog.Logger, op string, err error) {
	status, code := errorStatus(err)

	var ev *zerolog.Event
	switch service.Classify(err) {
	case service.KindTransientIO:
		ev = log.Warn()
	case service.KindConfiguration:
		ev = log.Error()
	default:
		ev = log.Debug()
	}
	ev.Err(err).
		Str("op", op).
		Str("code", string(code)).
		Str("request_id", response.RequestID(c)).
		Msg("Request failed")

	response.Fail(c, status, code)
}
