package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/liveconcierge/concierge/pkg/logger"
)

// Buffer is one decoded segment of agent speech awaiting playback.
type Buffer struct {
	PCM        []byte // 16-bit little-endian mono samples
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || len(b.PCM) == 0 {
		return 0
	}
	samples := len(b.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(b.SampleRate)
}

// Clock abstracts the playback timeline so scheduling decisions are testable.
// Now reports elapsed time on a monotonic axis starting at zero.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	start time.Time
}

func (c monotonicClock) Now() time.Duration { return time.Since(c.start) }

// NewMonotonicClock returns a Clock anchored at the moment of creation.
func NewMonotonicClock() Clock {
	return monotonicClock{start: time.Now()}
}

// Sink receives buffers at their scheduled start time. Play must not block;
// it is called from a timer goroutine.
type Sink interface {
	Play(Buffer) error
	Close() error
}

// scheduledSource is one in-flight playback buffer. Every registered source
// eventually leaves the set, either by finishing or by interruption.
type scheduledSource struct {
	startTimer *time.Timer
	doneTimer  *time.Timer
}

// Scheduler plays arriving buffers back to back with no gap or overlap and
// supports immediate full cancellation for barge-in.
type Scheduler struct {
	clock      Clock
	sink       Sink
	onSpeaking func(bool)
	logger     *logger.Logger

	mu        sync.Mutex
	nextStart time.Duration
	sources   map[*scheduledSource]struct{}
	speaking  bool
	torn      bool
}

// NewScheduler creates a playback scheduler writing to sink. onSpeaking is
// invoked on every speaking-state edge; it may be nil.
func NewScheduler(clock Clock, sink Sink, onSpeaking func(bool), log *logger.Logger) *Scheduler {
	return &Scheduler{
		clock:      clock,
		sink:       sink,
		onSpeaking: onSpeaking,
		logger:     log.Named("playback"),
		sources:    make(map[*scheduledSource]struct{}),
	}
}

// Enqueue schedules buf to start at the later of the playback clock and the
// end of the previously scheduled buffer, and returns that start time.
// The speaking flag is raised immediately.
func (s *Scheduler) Enqueue(buf Buffer) (time.Duration, error) {
	dur := buf.Duration()

	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return 0, fmt.Errorf("scheduler is torn down")
	}

	now := s.clock.Now()
	start := s.nextStart
	if now > start {
		start = now
	}
	s.nextStart = start + dur

	src := &scheduledSource{}
	s.sources[src] = struct{}{}

	src.startTimer = time.AfterFunc(start-now, func() {
		s.mu.Lock()
		if _, ok := s.sources[src]; !ok {
			s.mu.Unlock()
			return
		}
		src.doneTimer = time.AfterFunc(dur, func() { s.complete(src) })
		s.mu.Unlock()

		if err := s.sink.Play(buf); err != nil {
			s.logger.Warn("Playback sink rejected buffer", logger.Error(err))
		}
	})

	raise := !s.speaking
	s.speaking = true
	s.mu.Unlock()

	if raise {
		s.notifySpeaking(true)
	}

	s.logger.Debug("Buffer scheduled",
		logger.Duration("start", start),
		logger.Duration("duration", dur),
		logger.Int("in_flight", s.ScheduledCount()))
	return start, nil
}

// complete removes a naturally finished source; the last one out clears the
// speaking flag.
func (s *Scheduler) complete(src *scheduledSource) {
	s.mu.Lock()
	if _, ok := s.sources[src]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sources, src)
	drop := len(s.sources) == 0 && s.speaking
	if drop {
		s.speaking = false
	}
	s.mu.Unlock()

	if drop {
		s.notifySpeaking(false)
	}
}

// Interrupt stops every scheduled buffer immediately, clears the set and
// rewinds the timing cursor. Safe to call at any time, any number of times.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	for src := range s.sources {
		if src.startTimer != nil {
			src.startTimer.Stop()
		}
		if src.doneTimer != nil {
			src.doneTimer.Stop()
		}
		delete(s.sources, src)
	}
	s.nextStart = 0
	drop := s.speaking
	s.speaking = false
	s.mu.Unlock()

	if drop {
		s.notifySpeaking(false)
	}
}

// Teardown interrupts playback and releases the sink. Idempotent.
func (s *Scheduler) Teardown() {
	s.Interrupt()

	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	s.mu.Unlock()

	if err := s.sink.Close(); err != nil {
		s.logger.Debug("Playback sink close error", logger.Error(err))
	}
}

// IsSpeaking reports whether any buffer is scheduled or playing.
func (s *Scheduler) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// ScheduledCount returns the number of in-flight buffers.
func (s *Scheduler) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

// NextStartTime returns the current timing cursor.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func (s *Scheduler) notifySpeaking(speaking bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(speaking)
	}
}
