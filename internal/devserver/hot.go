package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/devbundle/internal/assets"
	"github.com/wolfeidau/devbundle/internal/telemetry"
)

// HeartbeatInterval keeps idle hot connections open through proxies.
const HeartbeatInterval = 10 * time.Second

// HotEvent is sent to hot clients, "sync" on connect and "built" after every
// build.
type HotEvent struct {
	Action   string              `json:"action"`
	Hash     string              `json:"hash"`
	Time     int64               `json:"time"`
	Errors   []string            `json:"errors"`
	Warnings []string            `json:"warnings"`
	Scripts  map[string][]string `json:"scripts,omitempty"`
}

func hotEvent(action string, res assets.BuildResult) HotEvent {
	return HotEvent{
		Action:   action,
		Hash:     res.Hash,
		Time:     res.Duration.Milliseconds(),
		Errors:   nonNil(res.Errors),
		Warnings: nonNil(res.Warnings),
		Scripts:  res.Scripts,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// buildSource is what the hub needs from the bundling engine.
type buildSource interface {
	Subscribe(func(assets.BuildResult)) func()
	Last() (assets.BuildResult, bool)
}

// HotHub streams build events to connected browsers.
type HotHub struct {
	source    buildSource
	heartbeat time.Duration

	mu      sync.Mutex
	clients map[chan HotEvent]struct{}

	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

// NewHotHub subscribes to source until Close.
func NewHotHub(source buildSource) *HotHub {
	h := &HotHub{
		source:    source,
		heartbeat: HeartbeatInterval,
		clients:   make(map[chan HotEvent]struct{}),
		done:      make(chan struct{}),
	}
	h.unsubscribe = source.Subscribe(func(res assets.BuildResult) {
		h.Broadcast(hotEvent("built", res))
	})
	return h
}

// Close stops listening for builds and ends every open stream.
func (h *HotHub) Close() {
	h.closeOnce.Do(func() {
		h.unsubscribe()
		close(h.done)
	})
}

// Clients returns the number of connected clients.
func (h *HotHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues event for every client. Slow clients miss events rather
// than stall builds.
func (h *HotHub) Broadcast(event HotEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *HotHub) register() chan HotEvent {
	ch := make(chan HotEvent, 8)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *HotHub) unregister(ch chan HotEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// Middleware answers assets.HotPath with the event stream.
func (h *HotHub) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != assets.HotPath {
			next.ServeHTTP(w, r)
			return
		}
		h.serve(w, r)
	})
}

func (h *HotHub) serve(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)

	ch := h.register()
	defer h.unregister(ch)

	clients := telemetry.GetMetrics().HotClients
	clients.Add(r.Context(), 1)
	defer clients.Add(r.Context(), -1)

	log.Debug().Msg("hot client connected")

	if last, built := h.source.Last(); built {
		if err := writeEvent(w, hotEvent("sync", last)); err != nil {
			return
		}
	} else if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event := <-ch:
			if err := writeEvent(w, event); err != nil {
				log.Debug().Err(err).Msg("failed to send hot event")
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			log.Debug().Msg("hot client disconnected")
			return

		case <-h.done:
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event HotEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
