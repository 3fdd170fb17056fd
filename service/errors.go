package service

import (
	"errors"

	"trustlens-backend/models"
)

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrRuleExists          = errors.New("rule already exists")
	ErrReviewNotFound      = errors.New("review not found")
	ErrResultNotFound      = errors.New("review result not found")
	ErrSessionNotFound     = errors.New("explain session not found")
	ErrReviewInProgress    = errors.New("a review is already running for this document")
	ErrReviewFinished      = errors.New("review has already finished")
	ErrNoRules             = errors.New("no rules selected for review")
	ErrNoFailedRules       = errors.New("review has no failed rules to retry")
	ErrDocumentBusy        = errors.New("document is being processed or reviewed")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyFile           = errors.New("uploaded file is empty")
	ErrFileTooLarge        = errors.New("uploaded file exceeds the size limit")
	ErrEmptyQuestion       = errors.New("question is required")
	ErrSessionMismatch     = errors.New("session belongs to a different review result")
	ErrInvalidRule         = models.ErrInvalidRule
)
