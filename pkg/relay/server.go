package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/codecollab/pkg/schema"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameLength = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter exposes the hub over http:
//
//	GET /ws                                  the real-time channel
//	GET /api/files/{project}/{language}      the current files of a room as {"files": [...]}
//	GET /healthz                             room and peer counts
func NewRouter(h *Hub) http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(h.serveWs)
	r.Methods(http.MethodGet).Path("/api/files/{project}/{language}").HandlerFunc(h.getFiles)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(h.health)
	return r
}

func (h *Hub) getFiles(writer http.ResponseWriter, request *http.Request) {
	vars := mux.Vars(request)
	s := schema.Session{ProjectName: vars["project"], Language: vars["language"]}
	files, err := h.Files(request.Context(), s)
	if err != nil {
		h.logger.Error("failed to load files", "room", s.Room(), "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(writer, map[string]any{"files": files})
}

func (h *Hub) health(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, h.Stats())
}

func writeJSON(writer http.ResponseWriter, v any) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (h *Hub) serveWs(writer http.ResponseWriter, request *http.Request) {
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade", "err", err)
		return
	}
	p := h.Attach()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, p)
	}()
	h.readPump(request, conn, p)
	<-done
}

// readPump feeds frames from the connection into the hub until the connection fails, then detaches the peer.
func (h *Hub) readPump(request *http.Request, conn *websocket.Conn, p *Peer) {
	defer func() {
		h.Detach(p)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxFrameLength)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("peer read failed", "peer", p.ID, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		h.Receive(request.Context(), p, frame)
	}
}

// frameWriter is the write half of a websocket connection.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// writePump drains the peer's outbox to the connection and keeps it alive with pings. A peer that cannot be
// written to is detached at once rather than when its outbox fills.
func (h *Hub) writePump(conn frameWriter, p *Peer) {
	t := time.NewTicker(pingPeriod)
	defer func() {
		t.Stop()
		h.Detach(p)
		_ = conn.Close()
	}()
	for {
		select {
		case frame, ok := <-p.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("peer write failed", "peer", p.ID, "err", err)
				return
			}
		case <-t.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
