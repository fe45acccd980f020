// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingLogger means Deps carried a disabled logger.
	ErrMissingLogger = errors.New("logger is required")

	// ErrMissingAPIHandler means Deps has no HTTP task API handler.
	ErrMissingAPIHandler = errors.New("API handler is required")

	ErrMissingManager = errors.New("manager is required")

	// ErrManagerNotStarted is returned by Shutdown before Start.
	ErrManagerNotStarted = errors.New("manager not started")

	// ErrServerStartFailed wraps a listener bind failure.
	ErrServerStartFailed = errors.New("server failed to start")
)
