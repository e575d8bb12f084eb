// Package apperr holds the sentinel errors shared by the service, API and MCP layers.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnknownVault       = errors.New("unknown vault")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrInvalidReference   = errors.New("invalid reference")
)
