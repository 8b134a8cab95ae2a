package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    []int16
	}{
		{
			name:    "silence",
			samples: []float32{0, 0, 0},
			want:    []int16{0, 0, 0},
		},
		{
			name:    "half scale",
			samples: []float32{0.5, -0.5},
			want:    []int16{16384, -16384},
		},
		{
			name:    "full scale positive clamps",
			samples: []float32{1.0},
			want:    []int16{32767},
		},
		{
			name:    "full scale negative",
			samples: []float32{-1.0},
			want:    []int16{-32768},
		},
		{
			name:    "out of range clamps instead of wrapping",
			samples: []float32{1.5, -1.5},
			want:    []int16{32767, -32768},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := FloatToPCM16(tt.samples)
			require.Len(t, data, len(tt.samples)*2)
			for i, want := range tt.want {
				got := int16(binary.LittleEndian.Uint16(data[i*2:]))
				assert.Equal(t, want, got, "sample %d", i)
			}
		})
	}
}

func TestPCM16ToFloat(t *testing.T) {
	data := FloatToPCM16([]float32{0, 0.5, -0.5, 0.25})

	channels, err := PCM16ToFloat(data, 1)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.InDeltaSlice(t, []float32{0, 0.5, -0.5, 0.25}, channels[0], 1.0/32768)
}

func TestPCM16ToFloatStereo(t *testing.T) {
	// Interleaved L R L R
	data := FloatToPCM16([]float32{0.5, -0.5, 0.25, -0.25})

	channels, err := PCM16ToFloat(data, 2)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.InDeltaSlice(t, []float32{0.5, 0.25}, channels[0], 1.0/32768)
	assert.InDeltaSlice(t, []float32{-0.5, -0.25}, channels[1], 1.0/32768)
}

func TestPCM16ToFloatRejectsBadInput(t *testing.T) {
	_, err := PCM16ToFloat([]byte{0x01}, 1)
	assert.Error(t, err, "odd byte count")

	_, err = PCM16ToFloat([]byte{0x01, 0x02}, 0)
	assert.Error(t, err, "zero channels")
}

func TestEncodeRoundTrip(t *testing.T) {
	samples := []float32{0, 0.1, -0.1, 0.9, -0.9}

	encoded := EncodeTransport(FloatToPCM16(samples))
	decoded, err := DecodeTransport(encoded)
	require.NoError(t, err)

	channels, err := PCM16ToFloat(decoded, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, samples, channels[0], 1.0/32768)
}

func TestDecodeTransportRejectsGarbage(t *testing.T) {
	_, err := DecodeTransport("not base64!!!")
	assert.Error(t, err)
}

func TestBufferDuration(t *testing.T) {
	// 24000 samples at 24kHz is exactly one second.
	buf := Buffer{PCM: make([]byte, 24000*2), SampleRate: PlaybackSampleRate}
	assert.Equal(t, "1s", buf.Duration().String())

	assert.Zero(t, Buffer{}.Duration())
	assert.Zero(t, Buffer{PCM: []byte{0, 0}, SampleRate: 0}.Duration())
}
