package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"wuyrush.io/plakat/common/logging"
	st "wuyrush.io/plakat/stores"
)

const (
	// changes queued per client; a client lagging further behind is dropped
	clientSendBufferSize = 32
	writeWait            = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type streamClient struct {
	send chan []byte
}

// hub fans change notifications out to the connected stream clients
type hub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

func newHub() *hub {
	return &hub{clients: map[*streamClient]struct{}{}}
}

// Run broadcasts every change of sub until sub ends or ctx is done
func (h *hub) Run(ctx context.Context, sub st.Subscription) {
	clog := logging.WithFuncName()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub.Changes():
			if !ok {
				clog.Warn("pin change subscription ended; stream clients get no more changes")
				return
			}
			msg, err := json.Marshal(c)
			if err != nil {
				clog.WithError(err).Error("error encoding pin change")
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logging.WithFuncName().Warn("stream client lagging behind, dropping it")
			h.drop(c)
		}
	}
}

// register returns nil once the hub is closed
func (h *hub) register() *streamClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	c := &streamClient{send: make(chan []byte, clientSendBufferSize)}
	h.clients[c] = struct{}{}
	return c
}

func (h *hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

// caller must hold h.mu
func (h *hub) drop(c *streamClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects all clients
func (h *hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.drop(c)
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandlePinStream upgrades to a websocket which receives every subsequent pin change as a JSON message
func (s *pinServer) HandlePinStream() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodGet)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.Banner != nil {
			writeErr(w, s.Banner, clog)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader already answered the request
			clog.WithError(err).Info("error upgrading to websocket")
			return
		}
		defer conn.Close()
		c := s.Hub.register()
		if c == nil {
			return
		}
		// reads only serve to notice the peer going away
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		defer s.Hub.unregister(c)
		for {
			select {
			case <-gone:
				return
			case msg, ok := <-c.send:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					clog.WithError(err).Info("stream client went away")
					return
				}
			}
		}
	}
}
