package watch

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/docker/go-events"
	"github.com/pkg/errors"
)

// ErrSinkTimeout is returned by a TimeoutSink whose reader did not make room
// within the configured timeout.
var ErrSinkTimeout = errors.New("timeout exceeded, tearing down sink")

// TimeoutSink writes events to a bounded channel. When the channel is full
// Write waits for room for at most the timeout and then fails with
// ErrSinkTimeout. A zero timeout waits until the sink is closed.
type TimeoutSink struct {
	ch      chan<- events.Event
	timeout time.Duration
	clock   clock.Clock

	closed chan struct{}
	once   sync.Once
}

// NewTimeoutSink returns a sink writing to ch. A nil clk uses the real clock.
func NewTimeoutSink(ch chan<- events.Event, timeout time.Duration, clk clock.Clock) *TimeoutSink {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &TimeoutSink{
		ch:      ch,
		timeout: timeout,
		clock:   clk,
		closed:  make(chan struct{}),
	}
}

// Write delivers event to the channel.
func (s *TimeoutSink) Write(event events.Event) error {
	select {
	case <-s.closed:
		return events.ErrSinkClosed
	default:
	}

	select {
	case s.ch <- event:
		return nil
	default:
	}

	if s.timeout <= 0 {
		select {
		case s.ch <- event:
			return nil
		case <-s.closed:
			return events.ErrSinkClosed
		}
	}

	timer := s.clock.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.ch <- event:
		return nil
	case <-timer.C():
		return ErrSinkTimeout
	case <-s.closed:
		return events.ErrSinkClosed
	}
}

// Close stops the sink. A Write blocked on a full channel returns
// events.ErrSinkClosed.
func (s *TimeoutSink) Close() error {
	s.once.Do(func() {
		close(s.closed)
	})
	return nil
}
