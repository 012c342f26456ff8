package common

import "errors"

var (
	ErrMissingCredential = errors.New("api credential not set")
	ErrNotConfigured     = errors.New("ai features not configured")
	ErrNoDocument        = errors.New("no document loaded")
	ErrNoText            = errors.New("no text extracted from document")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrUnknownVoice      = errors.New("unknown voice")
)
