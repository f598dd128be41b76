// Package eventbus is the single-threaded, priority-ordered in-process
// pub/sub the conversation core uses to notify observers without
// coupling. Subscribers register a glob pattern and a priority;
// emissions dispatch in descending priority order and land in a
// bounded history ring used for debugging and test waits.
package eventbus

import (
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// Handler receives one emitted event.
type Handler func(event string, data interface{})

// DefaultHistorySize is the bounded ring buffer's default capacity.
const DefaultHistorySize = 1024

// HistoryEntry is one recorded emission, used for debugging and WaitFor.
type HistoryEntry struct {
	Event string
	Data  interface{}
	At    time.Time
}

type subscriber struct {
	id       int
	pattern  string
	glob     glob.Glob
	priority int
	handler  Handler
}

// Bus is a single-threaded, priority-ordered pub/sub with bounded history.
type Bus struct {
	mu          sync.Mutex
	subs        []*subscriber
	nextID      int
	history     []HistoryEntry
	historyHead int
	historyLen  int
	historyCap  int
	errHandler  func(event string, r interface{})
}

// New creates a Bus with the default history size.
func New() *Bus {
	return NewWithHistorySize(DefaultHistorySize)
}

// NewWithHistorySize creates a Bus with a custom bounded history size.
func NewWithHistorySize(size int) *Bus {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Bus{
		history:    make([]HistoryEntry, size),
		historyCap: size,
	}
}

// Subscribe registers handler for events matching pattern ("*" matches
// everything), ordered by descending priority among all subscribers.
// It returns an id usable with Unsubscribe.
func (b *Bus) Subscribe(pattern string, priority int, handler Handler) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, pattern: pattern, glob: g, priority: priority, handler: handler}
	b.subs = append(b.subs, sub)
	// Stable insertion-ordered sort by descending priority: subscribers
	// of equal priority fire in registration order, never reordered
	// across separate emissions.
	for i := len(b.subs) - 1; i > 0 && b.subs[i-1].priority < b.subs[i].priority; i-- {
		b.subs[i-1], b.subs[i] = b.subs[i], b.subs[i-1]
	}
	return sub.id, nil
}

// Unsubscribe removes a previously registered subscriber by id.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// OnPanic installs a handler invoked when a subscriber handler panics;
// the bus recovers the panic, passes the event name and the recovered
// value to this handler, and continues dispatch to the remaining
// subscribers. The panic itself is not recorded in history.
func (b *Bus) OnPanic(fn func(event string, r interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errHandler = fn
}

// Emit dispatches event to all matching subscribers in descending
// priority order and records it in history. A panicking handler is
// recovered and does not abort dispatch to the rest.
func (b *Bus) Emit(event string, data interface{}) {
	b.mu.Lock()
	matching := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.glob.Match(event) {
			matching = append(matching, s)
		}
	}
	b.recordHistory(event, data)
	errHandler := b.errHandler
	b.mu.Unlock()

	for _, s := range matching {
		b.dispatchOne(s, event, data, errHandler)
	}
}

func (b *Bus) dispatchOne(s *subscriber, event string, data interface{}, errHandler func(string, interface{})) {
	defer func() {
		if r := recover(); r != nil && errHandler != nil {
			errHandler(event, r)
		}
	}()
	s.handler(event, data)
}

func (b *Bus) recordHistory(event string, data interface{}) {
	entry := HistoryEntry{Event: event, Data: data, At: time.Now()}
	idx := (b.historyHead + b.historyLen) % b.historyCap
	if b.historyLen < b.historyCap {
		b.historyLen++
	} else {
		b.historyHead = (b.historyHead + 1) % b.historyCap
	}
	b.history[idx] = entry
}

// History returns a copy of the recorded history, oldest first.
func (b *Bus) History() []HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]HistoryEntry, b.historyLen)
	for i := 0; i < b.historyLen; i++ {
		out[i] = b.history[(b.historyHead+i)%b.historyCap]
	}
	return out
}

// WaitFor polls history for an entry matching event until timeout
// elapses, returning the matched entry and true, or a zero entry and
// false on timeout. Intended for tests.
func (b *Bus) WaitFor(event string, timeout time.Duration) (HistoryEntry, bool) {
	deadline := time.Now().Add(timeout)
	g, err := glob.Compile(event)
	if err != nil {
		return HistoryEntry{}, false
	}
	for {
		for _, e := range b.History() {
			if g.Match(e.Event) {
				return e, true
			}
		}
		if time.Now().After(deadline) {
			return HistoryEntry{}, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
