package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/liveconcierge/concierge/pkg/logger"
)

// FrameWindow is the fixed capture window size in samples. At 16kHz mono this
// is 256ms of audio per emitted chunk.
const FrameWindow = 4096

// Chunk is one transport-ready window of captured audio.
type Chunk struct {
	Data     string // base64 PCM16
	MIMEType string
}

// FrameSource supplies raw float32 microphone samples. ReadFrame blocks until
// samples are available and returns io.EOF when the source is exhausted.
// Implementations: the widget WebSocket bridge, test fakes.
type FrameSource interface {
	ReadFrame() ([]float32, error)
	Close() error
}

// ChunkSink receives encoded capture chunks. Must not block for long; the
// pipeline calls it inline from the capture goroutine.
type ChunkSink func(Chunk)

// CapturePipeline taps a FrameSource and emits fixed-size PCM16 chunks to a
// sink for as long as it runs. Push model: the pipeline never waits for the
// sink to become ready.
type CapturePipeline struct {
	sink    ChunkSink
	onError func(error)
	logger  *logger.Logger

	mu      sync.Mutex
	source  FrameSource
	stopped chan struct{}
	wg      sync.WaitGroup
	pending []float32
}

// NewCapturePipeline creates a pipeline that forwards chunks to sink.
// onError is invoked once if the source fails mid-stream; it may be nil.
func NewCapturePipeline(sink ChunkSink, onError func(error), log *logger.Logger) *CapturePipeline {
	return &CapturePipeline{
		sink:    sink,
		onError: onError,
		logger:  log.Named("capture"),
	}
}

// Start attaches the pipeline to a source and begins emitting chunks.
func (p *CapturePipeline) Start(source FrameSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source != nil {
		return fmt.Errorf("capture pipeline already started")
	}
	if source == nil {
		return fmt.Errorf("capture source is nil")
	}

	p.source = source
	p.stopped = make(chan struct{})
	p.pending = p.pending[:0]

	p.wg.Add(1)
	go p.run(source, p.stopped)

	p.logger.Debug("Capture pipeline started", logger.Int("window", FrameWindow))
	return nil
}

// Stop detaches the source. No chunk is emitted after Stop returns.
func (p *CapturePipeline) Stop() {
	p.mu.Lock()
	source := p.source
	stopped := p.stopped
	p.source = nil
	p.stopped = nil
	p.mu.Unlock()

	if source == nil {
		return
	}

	close(stopped)
	// Closing the source unblocks a pending ReadFrame.
	if err := source.Close(); err != nil {
		p.logger.Debug("Capture source close error", logger.Error(err))
	}
	p.wg.Wait()
	p.logger.Debug("Capture pipeline stopped")
}

func (p *CapturePipeline) run(source FrameSource, stopped chan struct{}) {
	defer p.wg.Done()

	window := make([]float32, 0, FrameWindow)
	for {
		frame, err := source.ReadFrame()
		select {
		case <-stopped:
			return
		default:
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Warn("Capture source read failed", logger.Error(err))
				if p.onError != nil {
					// Off the capture goroutine: the handler is allowed to
					// call Stop, which waits for this goroutine to exit.
					go p.onError(err)
				}
			}
			return
		}

		window = append(window, frame...)
		for len(window) >= FrameWindow {
			p.emit(window[:FrameWindow])
			window = append(window[:0], window[FrameWindow:]...)
		}
	}
}

func (p *CapturePipeline) emit(samples []float32) {
	chunk := Chunk{
		Data:     EncodeTransport(FloatToPCM16(samples)),
		MIMEType: CaptureMIMEType,
	}
	p.sink(chunk)
}
