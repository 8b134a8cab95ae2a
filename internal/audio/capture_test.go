package audio

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveconcierge/concierge/pkg/logger"
)

// chanSource feeds frames from a channel and returns io.EOF once closed.
type chanSource struct {
	frames chan []float32
	done   chan struct{}
	once   sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{
		frames: make(chan []float32, 64),
		done:   make(chan struct{}),
	}
}

func (s *chanSource) ReadFrame() ([]float32, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *chanSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type chunkCollector struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (c *chunkCollector) sink(chunk Chunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
}

func (c *chunkCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

func (c *chunkCollector) all() []Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Chunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

func TestCaptureEmitsFixedWindows(t *testing.T) {
	source := newChanSource()
	collector := &chunkCollector{}
	pipeline := NewCapturePipeline(collector.sink, nil, logger.NewNop())

	require.NoError(t, pipeline.Start(source))

	// 2.5 windows of audio in uneven deliveries.
	total := FrameWindow*2 + FrameWindow/2
	for sent := 0; sent < total; {
		n := 1000
		if sent+n > total {
			n = total - sent
		}
		source.frames <- make([]float32, n)
		sent += n
	}

	require.Eventually(t, func() bool { return collector.count() == 2 },
		time.Second, 5*time.Millisecond)

	for _, chunk := range collector.all() {
		assert.Equal(t, CaptureMIMEType, chunk.MIMEType)
		decoded, err := DecodeTransport(chunk.Data)
		require.NoError(t, err)
		assert.Len(t, decoded, FrameWindow*2, "each chunk is one full PCM16 window")
	}

	pipeline.Stop()
	// The partial half-window never flushes.
	assert.Equal(t, 2, collector.count())
}

func TestCapturePreservesSampleOrder(t *testing.T) {
	source := newChanSource()
	collector := &chunkCollector{}
	pipeline := NewCapturePipeline(collector.sink, nil, logger.NewNop())

	require.NoError(t, pipeline.Start(source))

	// Ramp across two windows so any reordering is visible after decode.
	frame := make([]float32, FrameWindow*2)
	for i := range frame {
		frame[i] = float32(i%100) / 200
	}
	source.frames <- frame

	require.Eventually(t, func() bool { return collector.count() == 2 },
		time.Second, 5*time.Millisecond)
	pipeline.Stop()

	var got []float32
	for _, chunk := range collector.all() {
		decoded, err := DecodeTransport(chunk.Data)
		require.NoError(t, err)
		channels, err := PCM16ToFloat(decoded, 1)
		require.NoError(t, err)
		got = append(got, channels[0]...)
	}
	require.Len(t, got, FrameWindow*2)
	assert.InDeltaSlice(t, frame, got, 1.0/32768)
}

func TestCaptureStopHaltsEmission(t *testing.T) {
	source := newChanSource()
	collector := &chunkCollector{}
	pipeline := NewCapturePipeline(collector.sink, nil, logger.NewNop())

	require.NoError(t, pipeline.Start(source))
	source.frames <- make([]float32, FrameWindow)
	require.Eventually(t, func() bool { return collector.count() == 1 },
		time.Second, 5*time.Millisecond)

	pipeline.Stop()
	seen := collector.count()

	// Frames delivered after Stop must not surface.
	select {
	case source.frames <- make([]float32, FrameWindow):
	default:
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, seen, collector.count())
}

func TestCaptureSourceErrorReported(t *testing.T) {
	source := &failingSource{err: fmt.Errorf("device unplugged")}
	var reported error
	var mu sync.Mutex
	pipeline := NewCapturePipeline(func(Chunk) {}, func(err error) {
		mu.Lock()
		reported = err
		mu.Unlock()
	}, logger.NewNop())

	require.NoError(t, pipeline.Start(source))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reported != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Contains(t, reported.Error(), "device unplugged")
	mu.Unlock()
	pipeline.Stop()
}

func TestCaptureRejectsDoubleStart(t *testing.T) {
	source := newChanSource()
	pipeline := NewCapturePipeline(func(Chunk) {}, nil, logger.NewNop())

	require.NoError(t, pipeline.Start(source))
	assert.Error(t, pipeline.Start(newChanSource()))
	pipeline.Stop()
}

type failingSource struct {
	err error
}

func (s *failingSource) ReadFrame() ([]float32, error) { return nil, s.err }
func (s *failingSource) Close() error                  { return nil }
