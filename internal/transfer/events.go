package transfer

import (
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type EventType int

const (
	EventStarted EventType = iota
	EventRetry
	EventResume
	EventHeaders
	EventChunk
	EventFinished
	EventError
	EventFailed
)

func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventRetry:
		return "retry"
	case EventResume:
		return "resume"
	case EventHeaders:
		return "headers"
	case EventChunk:
		return "chunk"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Response carries the response metadata attached to headers and finished events.
type Response struct {
	StatusCode int
	Header     http.Header
}

// Event is delivered to listeners. Info is a snapshot taken when the event was raised.
type Event struct {
	Type      EventType
	Info      Info
	Err       error
	Response  *Response
	ChunkSize int
}

type Listener func(Event)

type subscription struct {
	id    uuid.UUID
	types []EventType
	fn    Listener
}

func (s subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// bus is a copy-on-write listener list: publishing iterates the slice it loaded, so
// listeners may subscribe or unsubscribe from inside a callback.
type bus struct {
	mu   sync.Mutex
	subs []subscription
}

func (b *bus) subscribe(fn Listener, types []EventType) uuid.UUID {
	s := subscription{id: uuid.New(), types: slices.Clone(types), fn: fn}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]subscription, 0, len(b.subs)+1)
	next = append(next, b.subs...)
	b.subs = append(next, s)

	return s.id
}

func (b *bus) unsubscribe(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := slices.IndexFunc(b.subs, func(s subscription) bool { return s.id == id })
	if idx < 0 {
		return false
	}

	b.subs = slices.Delete(slices.Clone(b.subs), idx, idx+1)

	return true
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		if s.wants(ev.Type) {
			s.fn(ev)
		}
	}
}

func responseMeta(resp *http.Response) *Response {
	if resp == nil {
		return nil
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone()}
}
