// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

var (
	// ErrUnknownConfigField is returned when the YAML file carries a key the
	// schema does not know.
	ErrUnknownConfigField = errors.New("unknown config field")
	// ErrUnsupportedFormat is returned for config files without a .yaml/.yml extension.
	ErrUnsupportedFormat = errors.New("unsupported config format")
	// ErrMultipleDocuments is returned when the YAML file holds more than one document.
	ErrMultipleDocuments = errors.New("config file must contain exactly one YAML document")
)
