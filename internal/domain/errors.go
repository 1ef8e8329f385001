package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound            = errors.New("domain: not found")
	ErrConflict            = errors.New("domain: conflict")
	ErrNoConversation      = errors.New("domain: no conversation log")
	ErrWorkerNotFound      = errors.New("domain: worker binary not found")
	ErrInvalidSessionState = errors.New("domain: invalid session state")
	ErrRunActive           = errors.New("domain: run already active")
)
