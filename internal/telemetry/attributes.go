// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by pipeline spans.
const (
	SessionIDKey  = "lumi.session_id"
	TaskIDKey     = "lumi.task_id"
	ChannelKey    = "lumi.channel"
	SourceKey     = "lumi.source"
	StageKey      = "lumi.stage"
	CapabilityKey = "lumi.capability"
	ProviderKey   = "lumi.provider"
	AttemptKey    = "lumi.attempt"
	OutcomeKey    = "lumi.outcome"

	ErrorKindKey = "error.kind"
)

// SessionAttributes creates the attributes attached to a session span.
func SessionAttributes(sessionID, taskID, channel, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(TaskIDKey, taskID),
		attribute.String(ChannelKey, channel),
		attribute.String(SourceKey, source),
	}
}

// CapabilityAttributes creates the attributes attached to a capability span.
func CapabilityAttributes(capability, provider string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CapabilityKey, capability),
		attribute.String(ProviderKey, provider),
		attribute.Int(AttemptKey, attempt),
	}
}

// RecordError marks span as failed with the given error kind.
func RecordError(span trace.Span, kind string, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(ErrorKindKey, kind))
	span.SetStatus(codes.Error, err.Error())
}
