package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"
)

// Prefix is the path prefix of every stream route.
const Prefix = "/_gazelink/"

// StatsInterval is how often Run pushes stats_update messages.
const StatsInterval = 5 * time.Second

// Handler serves the gaze stream:
//
//	GET /_gazelink/ws                 WebSocket, initial_state then live messages
//	GET /_gazelink/healthz            session id, client count, dropped messages
//	GET /_gazelink/api/stats          stats snapshot
//	GET /_gazelink/api/events         buffered events
//	GET /_gazelink/api/samples?limit  newest buffered samples, all when limit is 0
func Handler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+Prefix+"ws", hub.serveWS)
	mux.HandleFunc("GET "+Prefix+"healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"session_id": hub.sessionID,
			"clients":    hub.Clients(),
			"dropped":    hub.Dropped(),
		})
	})
	mux.HandleFunc("GET "+Prefix+"api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, hub.StatsSnapshot())
	})
	mux.HandleFunc("GET "+Prefix+"api/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, hub.Events())
	})
	mux.HandleFunc("GET "+Prefix+"api/samples", func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, hub.Samples(limit))
	})
	return mux
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	// the stream is a lab-local read-only feed; any page may subscribe
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	c := h.register(conn)
	defer h.unregister(c)

	// nothing is read from clients; CloseRead's context ends when the peer
	// goes away
	h.writeLoop(conn.CloseRead(context.Background()), c)
}

var errBadLimit = errors.New("limit must be a non-negative integer")

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errBadLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Run pushes stats to clients every StatsInterval until ctx is done.
func Run(ctx context.Context, hub *Hub) {
	go hub.StartStatsBroadcast(ctx, StatsInterval)
}
