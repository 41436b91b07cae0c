package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to observers.
type ErrorKind string

const (
	ErrorKindDeviceUnavailable     ErrorKind = "device_unavailable"
	ErrorKindAuthenticationFailed  ErrorKind = "authentication_failed"
	ErrorKindConnection            ErrorKind = "connection_error"
	ErrorKindProtocolParse         ErrorKind = "protocol_parse_error"
	ErrorKindAnalysisRequestFailed ErrorKind = "analysis_request_failed"
)

var (
	ErrDeviceUnavailable     = errors.New("audio input device unavailable")
	ErrAuthenticationFailed  = errors.New("transcription service rejected the credential")
	ErrConnection            = errors.New("transcription connection failed")
	ErrProtocolParse         = errors.New("malformed transcription message")
	ErrAnalysisRequestFailed = errors.New("analysis request failed")
)

// Sentinel returns the sentinel error matching the kind.
func (k ErrorKind) Sentinel() error {
	switch k {
	case ErrorKindDeviceUnavailable:
		return ErrDeviceUnavailable
	case ErrorKindAuthenticationFailed:
		return ErrAuthenticationFailed
	case ErrorKindConnection:
		return ErrConnection
	case ErrorKindProtocolParse:
		return ErrProtocolParse
	case ErrorKindAnalysisRequestFailed:
		return ErrAnalysisRequestFailed
	default:
		return nil
	}
}

// SessionError is a classified failure of the capture or transcription pipeline.
type SessionError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func NewSessionError(kind ErrorKind, reason string, err error) *SessionError {
	return &SessionError{Kind: kind, Reason: reason, Err: err}
}

func (e *SessionError) Error() string {
	msg := e.Reason
	if msg == "" {
		if sentinel := e.Kind.Sentinel(); sentinel != nil {
			msg = sentinel.Error()
		} else {
			msg = string(e.Kind)
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// Is matches the sentinel error of the same kind.
func (e *SessionError) Is(target error) bool {
	sentinel := e.Kind.Sentinel()
	return sentinel != nil && target == sentinel
}

// KindOf extracts the error kind, defaulting to a connection error.
func KindOf(err error) ErrorKind {
	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr.Kind
	}
	switch {
	case errors.Is(err, ErrDeviceUnavailable):
		return ErrorKindDeviceUnavailable
	case errors.Is(err, ErrAuthenticationFailed):
		return ErrorKindAuthenticationFailed
	case errors.Is(err, ErrProtocolParse):
		return ErrorKindProtocolParse
	case errors.Is(err, ErrAnalysisRequestFailed):
		return ErrorKindAnalysisRequestFailed
	default:
		return ErrorKindConnection
	}
}
