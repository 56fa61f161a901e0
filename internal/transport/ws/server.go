package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ecofarm.ai/internal/protocol"
)

// Server is the dashboard event hub: a one-way websocket fan-out of broadcast
// events. Clients never steer the simulation; inbound frames are read only to
// notice disconnects.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	out chan []byte
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[*client]struct{}{},
	}
}

// Publish implements protocol.Sink. A slow client drops events rather than
// stalling the simulation.
func (s *Server) Publish(ev protocol.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- b:
		default:
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{out: make(chan []byte, 256)}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		s.log.Printf("ws: client connected (%s)", r.RemoteAddr)

		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(done)
			for b := range c.out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}()

		// Reader loop: discard frames, exit on close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		// Detach before closing the channel so Publish cannot race the close.
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(c.out)
		<-done
		s.log.Printf("ws: client disconnected (%s)", r.RemoteAddr)
	}
}
