package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// Snapshot is one sample of every flattened metric.
type Snapshot struct {
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

// Message is the envelope of everything sent to websocket clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func newSnapshot(obs map[string]Observation) Snapshot {
	s := Snapshot{Values: make(map[string]float64, len(obs))}
	for name, o := range obs {
		s.Values[name] = o.Value
		if o.Time.After(s.Time) {
			s.Time = o.Time
		}
	}
	return s
}

// Hub samples a Store periodically and broadcasts each sample to the
// connected websocket clients.
type Hub struct {
	store  *Store
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

func NewHub(store *Store, logger zerolog.Logger) *Hub {
	return &Hub{
		store:   store,
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register sends conn the sampled history and then adds it to the
// broadcast set.
func (h *Hub) Register(ctx context.Context, conn *websocket.Conn) error {
	samples := h.store.samples.get()
	history := make([]Snapshot, 0, len(samples))
	for _, obs := range samples {
		history = append(history, newSnapshot(obs))
	}
	if err := h.write(ctx, conn, Message{Type: "initial_state", Payload: history}); err != nil {
		return err
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	return nil
}

// Unregister removes conn from the broadcast set.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) broadcast(ctx context.Context, msg Message) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := h.write(ctx, c, msg); err != nil {
			h.logger.Debug().Err(err).Msg("dropping client")
			h.Unregister(c)
		}
	}
}

// Run samples the store every interval and broadcasts the sample until ctx
// is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.store.Sample(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("sampling failed")
				continue
			}
			if obs, ok := h.store.Latest(); ok {
				h.broadcast(ctx, Message{Type: "stats_update", Payload: newSnapshot(obs)})
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket and keeps it registered
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	if err := h.Register(r.Context(), conn); err != nil {
		h.logger.Debug().Err(err).Msg("initial state not delivered")
		return
	}
	defer h.Unregister(conn)

	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
}

// Handler serves g on /metrics and the hub on /ws.
func Handler(g Gatherer, hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(g))
	mux.Handle("/ws", hub)
	return mux
}
