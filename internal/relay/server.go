package relay

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaindrift/mdrecorder/internal/gclog"
)

// Config tunes the relay's poll cadence and enrichment windows, matching
// relay.py's WS_RELAY_* environment defaults.
type Config struct {
	DataDir          string
	PollInterval     time.Duration
	LiveOnly         bool
	LevelsN          int
	LevelsInterval   time.Duration
	VolumeWindow     time.Duration
	VolumeInterval   time.Duration
}

// DefaultConfig mirrors relay.py's module-level defaults.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:        dataDir,
		PollInterval:   time.Second,
		LevelsN:        20,
		LevelsInterval: time.Second,
		VolumeWindow:   24 * time.Hour,
		VolumeInterval: time.Second,
	}
}

// Server is the peripheral read-only relay (spec §4.9/§10): an HTTP mux
// that upgrades GET /live/{exchange}/{symbol}/{depth,trades} to a
// WebSocket tailing that stream's live output.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer builds a relay server over cfg. No auth, no write paths —
// read-only by construction.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the relay's net/http handler, routed on path shape
// /live/{exchange}/{symbol}/{depth|trades}, matching §10.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/live/", s.handleLive)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/live/"), "/"), "/")
	if len(parts) != 3 {
		http.Error(w, "expected /live/{exchange}/{symbol}/{depth|trades}", http.StatusBadRequest)
		return
	}
	exchange, symbol, kind := parts[0], parts[1], parts[2]
	if kind != "depth" && kind != "trades" {
		http.Error(w, "unknown stream kind, want depth or trades", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gclog.Warnf(gclog.Relay, "ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	gclog.Infof(gclog.Relay, "relay client connected exchange=%s symbol=%s kind=%s", exchange, symbol, kind)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// A read loop solely to notice client-initiated close; the relay
		// never expects inbound application messages.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	switch kind {
	case "depth":
		s.streamDepth(ctx, conn, exchange, symbol)
	case "trades":
		s.streamTrades(ctx, conn, exchange, symbol)
	}
}

func (s *Server) sendJSON(conn *websocket.Conn, msg Message) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (s *Server) sendStatus(conn *websocket.Conn, exchange, symbol, text string) error {
	return s.sendJSON(conn, newMessage("status", exchange, symbol, nowMs(), map[string]string{"message": text}))
}

func nowMs() int64 { return time.Now().UnixMilli() }
