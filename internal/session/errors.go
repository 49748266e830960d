package session

import "errors"

var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionNotActive        = errors.New("session is not active")
	ErrSessionNotSuspended     = errors.New("session is not suspended")
	ErrSessionExpired          = errors.New("session has expired")
	ErrDuplicateActiveSession  = errors.New("device already has an active session")
	ErrPackageNotFound         = errors.New("package not found")
	ErrPackageInactive         = errors.New("package is not available")
	ErrRouterNotFound          = errors.New("router not found")
	ErrRouterOffline           = errors.New("router is offline")
	ErrDeviceNotPresent        = errors.New("device is not connected to the router")
	ErrInvalidStateTransition  = errors.New("invalid session state transition")
	ErrSessionAlreadyActivated = errors.New("session is already activated")
)
