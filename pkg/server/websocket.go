package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nstogner/solemate/pkg/controller"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is a server-to-client websocket message.
type Frame struct {
	// Type is "reply" for turn outcomes and "thread" for state pushes.
	Type   string            `json:"type"`
	Reply  *controller.Reply `json:"reply,omitempty"`
	Thread *threadView       `json:"thread,omitempty"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Missing thread ID", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()
	conn := &wsConn{ws: ws}
	ctx := r.Context()

	// Initial sync
	if err := s.pushThread(r, conn, id); err != nil {
		slog.Error("Failed initial sync", "threadID", id, "error", err)
		return
	}

	done := make(chan struct{})
	updates, unsubscribe := s.threads.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)

	// Pushes commits made by other clients of the same thread.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case threadID, ok := <-updates:
				if !ok {
					return
				}
				if threadID != id {
					continue
				}
				if err := s.pushThread(r, conn, id); err != nil {
					slog.Warn("Failed to push thread update", "threadID", id, "error", err)
					return
				}
			}
		}
	}()

	for {
		var msg messageRequest
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}

		reply := s.agent.Respond(ctx, id, msg.Content)
		if err := conn.write(Frame{Type: "reply", Reply: reply}); err != nil {
			slog.Error("WebSocket write error", "error", err)
			break
		}
	}

	close(done)
	wg.Wait()
}

func (s *Server) pushThread(r *http.Request, conn *wsConn, id string) error {
	th, err := s.agent.Thread(r.Context(), id)
	if err != nil {
		return err
	}
	return conn.write(Frame{Type: "thread", Thread: &threadView{Thread: th, State: th.State()}})
}
