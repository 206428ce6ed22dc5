package llm

import (
	"io"
	"sync"
)

// sliceStream replays a fixed list of events, then err or io.EOF.
type sliceStream struct {
	events []Event
	err    error
	pos    int
	closed bool
	mu     sync.Mutex
}

func (s *sliceStream) Recv() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}, io.EOF
	}
	if s.pos >= len(s.events) {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
