package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/art-defcon/solar-controller/internal/tracker"
)

// TickEvent is the wire view of one decision cycle.
type TickEvent struct {
	NowUTC            string  `json:"now_utc"`
	Tick              uint64  `json:"tick"`
	Adjusting         bool    `json:"adjusting"`
	LeftSwitchActive  bool    `json:"left_switch_active"`
	RightSwitchActive bool    `json:"right_switch_active"`
	LeftSample        float64 `json:"left_sample"`
	RightSample       float64 `json:"right_sample"`
	Diff              float64 `json:"diff"`
	RelayCommand      string  `json:"relay_command"`
	Line              string  `json:"line,omitempty"`
	Error             string  `json:"error,omitempty"`
}

func TickEventFromSnapshot(s tracker.Snapshot) TickEvent {
	ev := TickEvent{
		NowUTC:            time.Now().UTC().Format(time.RFC3339Nano),
		Tick:              s.Ticks,
		Adjusting:         s.Adjusting,
		LeftSwitchActive:  s.LeftSwitchActive,
		RightSwitchActive: s.RightSwitchActive,
		LeftSample:        s.LeftSample,
		RightSample:       s.RightSample,
		Diff:              s.Diff,
		RelayCommand:      s.RelayCommand,
		Line:              s.LastLine,
		Error:             s.LastError,
	}
	if !s.LastTickAt.IsZero() {
		ev.NowUTC = s.LastTickAt.UTC().Format(time.RFC3339Nano)
	}
	return ev
}

// TickBroadcaster fans decision cycles out to any listeners (the SSE
// endpoint). It keeps the most recent event so new subscribers get an
// immediate sample.
type TickBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan TickEvent
	nextID   int
	last     TickEvent
	haveLast bool
}

func NewTickBroadcaster() *TickBroadcaster {
	return &TickBroadcaster{
		subs: make(map[int]chan TickEvent),
	}
}

func (b *TickBroadcaster) Subscribe(buffer int) (int, <-chan TickEvent) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan TickEvent, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *TickBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks; a subscriber that stops draining loses events.
// Sending under the lock keeps Publish ordered against Unsubscribe's
// close.
func (b *TickBroadcaster) Publish(ev TickEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.last = ev
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}

// Handler streams ticks as server-sent events, one JSON object per
// event.
func (b *TickBroadcaster) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fl, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		id, ch := b.Subscribe(8)
		defer b.Unsubscribe(id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		fl.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-ch:
				if !open {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				fl.Flush()
			}
		}
	})
}
