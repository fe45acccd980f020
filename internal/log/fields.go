// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldTaskID        = "task_id"
	FieldCorrelationID = "correlation_id"
	FieldChannel       = "channel"
	FieldSubscriberID  = "subscriber_id"

	// Process / pipeline fields
	FieldEvent      = "event"
	FieldComponent  = "component"
	FieldTopic      = "topic"
	FieldStage      = "stage"
	FieldCapability = "capability"
	FieldProvider   = "provider"
	FieldAttempt    = "attempt"
	FieldDuration   = "duration_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldAddr = "addr"
	FieldPath = "path"
)
