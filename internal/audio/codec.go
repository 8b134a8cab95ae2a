package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Sample rates used on the wire. The Live API consumes 16kHz mono PCM16 and
// produces 24kHz mono PCM16; capture and playback sides therefore run at
// different rates.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
)

// CaptureMIMEType tags outbound audio chunks for the realtime transport.
const CaptureMIMEType = "audio/pcm;rate=16000"

// FloatToPCM16 converts float samples in [-1, 1] to 16-bit signed
// little-endian PCM. Out-of-range samples are clamped rather than wrapped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat converts interleaved 16-bit little-endian PCM into per-channel
// float sample buffers in [-1, 1).
func PCM16ToFloat(data []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 data length must be even, got %d", len(data))
	}
	samples := len(data) / 2
	frames := samples / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames*channels; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i%channels][i/channels] = float32(v) / 32768.0
	}
	return out, nil
}

// EncodeTransport encodes raw bytes into the transport-safe text form.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport is the inverse of EncodeTransport.
func DecodeTransport(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transport payload: %w", err)
	}
	return data, nil
}
