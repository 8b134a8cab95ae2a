package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveconcierge/concierge/pkg/logger"
)

// fakeClock is a settable playback timeline.
type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// captureSink records played buffers.
type captureSink struct {
	mu     sync.Mutex
	played []Buffer
	closed int
}

func (s *captureSink) Play(buf Buffer) error {
	s.mu.Lock()
	s.played = append(s.played, buf)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *captureSink) playedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

func pcmOfDuration(d time.Duration, rate int) []byte {
	samples := int(d.Seconds() * float64(rate))
	return make([]byte, samples*2)
}

func TestSchedulerSequentialStarts(t *testing.T) {
	clock := &fakeClock{}
	sink := &captureSink{}
	s := NewScheduler(clock, sink, nil, logger.NewNop())

	// Three 100ms buffers arriving at time zero must queue back to back.
	buf := Buffer{PCM: pcmOfDuration(100*time.Millisecond, PlaybackSampleRate), SampleRate: PlaybackSampleRate}

	start1, err := s.Enqueue(buf)
	require.NoError(t, err)
	start2, err := s.Enqueue(buf)
	require.NoError(t, err)
	start3, err := s.Enqueue(buf)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), start1)
	assert.Equal(t, 100*time.Millisecond, start2)
	assert.Equal(t, 200*time.Millisecond, start3)
	assert.Equal(t, 300*time.Millisecond, s.NextStartTime())
	assert.Equal(t, 3, s.ScheduledCount())
	assert.True(t, s.IsSpeaking())

	s.Teardown()
}

func TestSchedulerStartsAtClockWhenBehind(t *testing.T) {
	clock := &fakeClock{}
	sink := &captureSink{}
	s := NewScheduler(clock, sink, nil, logger.NewNop())

	buf := Buffer{PCM: pcmOfDuration(50*time.Millisecond, PlaybackSampleRate), SampleRate: PlaybackSampleRate}
	_, err := s.Enqueue(buf)
	require.NoError(t, err)

	// The clock has moved past the end of the previous buffer; the next one
	// starts now, not in the past.
	clock.advance(500 * time.Millisecond)
	start, err := s.Enqueue(buf)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, start)
	assert.Equal(t, 550*time.Millisecond, s.NextStartTime())

	s.Teardown()
}

func TestSchedulerInterruptFlushesEverything(t *testing.T) {
	clock := &fakeClock{}
	sink := &captureSink{}

	var mu sync.Mutex
	var edges []bool
	s := NewScheduler(clock, sink, func(speaking bool) {
		mu.Lock()
		edges = append(edges, speaking)
		mu.Unlock()
	}, logger.NewNop())

	buf := Buffer{PCM: pcmOfDuration(time.Second, PlaybackSampleRate), SampleRate: PlaybackSampleRate}
	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(buf)
		require.NoError(t, err)
	}
	require.True(t, s.IsSpeaking())
	require.Equal(t, 3, s.ScheduledCount())

	s.Interrupt()

	assert.Equal(t, 0, s.ScheduledCount())
	assert.False(t, s.IsSpeaking())
	assert.Equal(t, time.Duration(0), s.NextStartTime(), "timing cursor rewinds")

	mu.Lock()
	assert.Equal(t, []bool{true, false}, edges)
	mu.Unlock()

	// Idempotent: no extra edges, no errors.
	s.Interrupt()
	mu.Lock()
	assert.Equal(t, []bool{true, false}, edges)
	mu.Unlock()

	// The timeline restarts from the clock after an interrupt.
	clock.advance(100 * time.Millisecond)
	start, err := s.Enqueue(buf)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, start)

	s.Teardown()
}

func TestSchedulerSpeakingClearsWhenLastBufferEnds(t *testing.T) {
	clock := &fakeClock{}
	sink := &captureSink{}
	s := NewScheduler(clock, sink, nil, logger.NewNop())

	// Tiny buffers so the real timers driving completion fire quickly.
	buf := Buffer{PCM: pcmOfDuration(5*time.Millisecond, PlaybackSampleRate), SampleRate: PlaybackSampleRate}
	_, err := s.Enqueue(buf)
	require.NoError(t, err)
	_, err = s.Enqueue(buf)
	require.NoError(t, err)
	require.True(t, s.IsSpeaking())

	require.Eventually(t, func() bool {
		return !s.IsSpeaking() && s.ScheduledCount() == 0
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, sink.playedCount())

	s.Teardown()
}

func TestSchedulerTeardown(t *testing.T) {
	clock := &fakeClock{}
	sink := &captureSink{}
	s := NewScheduler(clock, sink, nil, logger.NewNop())

	buf := Buffer{PCM: pcmOfDuration(time.Second, PlaybackSampleRate), SampleRate: PlaybackSampleRate}
	_, err := s.Enqueue(buf)
	require.NoError(t, err)

	s.Teardown()
	assert.Equal(t, 1, sink.closed)

	_, err = s.Enqueue(buf)
	assert.Error(t, err, "enqueue after teardown is rejected")

	// Teardown is idempotent; the sink closes once.
	s.Teardown()
	assert.Equal(t, 1, sink.closed)
}
