// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 converts an MP3 clip into stereo s16le PCM at its native rate.
func DecodeMP3(data []byte) (Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("mp3 decoder: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("mp3 decode: %w", err)
	}
	return Clip{
		Encoding: EncodingPCM,
		Format:   Format{SampleRate: dec.SampleRate(), Channels: 2},
		Data:     pcm,
	}, nil
}

// ToPCM returns clip as PCM, decoding MP3 when needed.
func ToPCM(clip Clip) (Clip, error) {
	switch clip.Encoding {
	case EncodingPCM:
		return clip, nil
	case EncodingMP3:
		return DecodeMP3(clip.Data)
	default:
		return Clip{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, clip.Encoding)
	}
}

// EncodeWAV wraps a PCM clip in a RIFF/WAVE container.
func EncodeWAV(clip Clip) ([]byte, error) {
	if clip.Encoding != EncodingPCM {
		return nil, fmt.Errorf("%w: wav needs pcm, got %q", ErrUnsupportedEncoding, clip.Encoding)
	}
	f := clip.Format
	if f.SampleRate == 0 {
		f = DefaultFormat()
	}
	var buf bytes.Buffer
	buf.Grow(44 + len(clip.Data))
	w := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	w(uint32(36 + len(clip.Data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1)) // PCM
	w(uint16(f.Channels))
	w(uint32(f.SampleRate))
	w(uint32(f.BytesPerSecond()))
	w(uint16(f.Channels * bytesPerSample))
	w(uint16(bytesPerSample * 8))
	buf.WriteString("data")
	w(uint32(len(clip.Data)))
	buf.Write(clip.Data)
	return buf.Bytes(), nil
}
