package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"trustlens-backend/docstate"
	"trustlens-backend/rulebook"
	"trustlens-backend/service"

	"github.com/gin-gonic/gin"
)

// apiError is a stable error code. Numbers are grouped: 1xxx request,
// 2xxx missing resources, 3xxx business rules, 5xxx system.
type apiError struct {
	Status int
	Code   string
	Number int
}

var (
	errInvalidRequest    = apiError{http.StatusBadRequest, "INVALID_REQUEST", 1001}
	errFileTooLarge      = apiError{http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", 1002}
	errDocumentNotFound  = apiError{http.StatusNotFound, "DOCUMENT_NOT_FOUND", 2001}
	errRuleNotFound      = apiError{http.StatusNotFound, "RULE_NOT_FOUND", 2002}
	errReviewNotFound    = apiError{http.StatusNotFound, "REVIEW_NOT_FOUND", 2003}
	errSessionNotFound   = apiError{http.StatusNotFound, "SESSION_NOT_FOUND", 2004}
	errResultNotFound    = apiError{http.StatusNotFound, "RESULT_NOT_FOUND", 2005}
	errIllegalTransition = apiError{http.StatusConflict, "ILLEGAL_TRANSITION", 3001}
	errReviewInProgress  = apiError{http.StatusConflict, "REVIEW_IN_PROGRESS", 3002}
	errInvalidRule       = apiError{http.StatusBadRequest, "INVALID_RULE", 3003}
	errUnsupportedFile   = apiError{http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE_TYPE", 3004}
	errDocumentBusy      = apiError{http.StatusConflict, "DOCUMENT_BUSY", 3005}
	errReviewFinished    = apiError{http.StatusConflict, "REVIEW_FINISHED", 3006}
	errNoRules           = apiError{http.StatusUnprocessableEntity, "NO_RULES", 3007}
	errNoFailedRules     = apiError{http.StatusConflict, "NO_FAILED_RULES", 3008}
	errRuleExists        = apiError{http.StatusConflict, "RULE_EXISTS", 3009}
	errInternal          = apiError{http.StatusInternalServerError, "INTERNAL_ERROR", 5001}
)

// errorTable is checked in order; the first match wins
var errorTable = []struct {
	target error
	api    apiError
}{
	{service.ErrDocumentNotFound, errDocumentNotFound},
	{service.ErrRuleNotFound, errRuleNotFound},
	{service.ErrReviewNotFound, errReviewNotFound},
	{service.ErrResultNotFound, errResultNotFound},
	{service.ErrSessionNotFound, errSessionNotFound},
	{docstate.ErrIllegalTransition, errIllegalTransition},
	{service.ErrReviewInProgress, errReviewInProgress},
	{service.ErrDocumentBusy, errDocumentBusy},
	{service.ErrReviewFinished, errReviewFinished},
	{service.ErrNoRules, errNoRules},
	{service.ErrNoFailedRules, errNoFailedRules},
	{service.ErrRuleExists, errRuleExists},
	{service.ErrInvalidRule, errInvalidRule},
	{rulebook.ErrDuplicateRule, errInvalidRule},
	{service.ErrUnsupportedFileType, errUnsupportedFile},
	{service.ErrFileTooLarge, errFileTooLarge},
	{service.ErrEmptyFile, errInvalidRequest},
	{service.ErrEmptyQuestion, errInvalidRequest},
	{service.ErrSessionMismatch, errInvalidRequest},
}

func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.api
		}
	}
	return errInternal
}

func respondError(c *gin.Context, api apiError, message string) {
	c.JSON(api.Status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    api.Code,
			"number":  api.Number,
			"message": message,
		},
	})
}

// respondServiceError maps a service error onto its code. Internal errors are
// logged and not echoed to the client.
func respondServiceError(c *gin.Context, logger *slog.Logger, err error) {
	api := classify(err)
	if api == errInternal {
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		respondError(c, api, "internal server error")
		return
	}
	respondError(c, api, err.Error())
}

func respondInvalid(c *gin.Context, message string) {
	respondError(c, errInvalidRequest, message)
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}
