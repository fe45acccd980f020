// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// SilenceDetector flags the end of an utterance: speech followed by Hang of
// continuous frames below Threshold (RMS, 0..1 full scale). A zero Hang
// disables detection.
type SilenceDetector struct {
	Threshold float64
	Hang      time.Duration
	Format    Format

	heard   bool
	silence time.Duration
}

// Feed inspects one PCM frame and reports whether the utterance has ended.
func (d *SilenceDetector) Feed(frame []byte) bool {
	if d.Hang <= 0 || len(frame) < bytesPerSample {
		return false
	}
	level := RMS(frame)
	if level >= d.Threshold {
		d.heard = true
		d.silence = 0
		return false
	}
	if !d.heard {
		return false
	}
	bps := d.Format.BytesPerSecond()
	if bps == 0 {
		bps = DefaultFormat().BytesPerSecond()
	}
	d.silence += time.Duration(len(frame)) * time.Second / time.Duration(bps)
	return d.silence >= d.Hang
}

// Reset clears detector state for a new utterance.
func (d *SilenceDetector) Reset() {
	d.heard = false
	d.silence = 0
}

// RMS returns the root mean square level of s16le PCM normalised to 0..1.
func RMS(frame []byte) float64 {
	n := len(frame) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
