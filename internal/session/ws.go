package session

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spadina.network/internal/protocol"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// Authenticator turns a bearer token into a local player name.
type Authenticator interface {
	Verify(token string) (player string, err error)
}

// Server is the client WebSocket endpoint.
type Server struct {
	hub   *Hub
	auth  Authenticator
	log   *log.Logger
	admin bool

	upgrader websocket.Upgrader

	mu       sync.Mutex
	replaced map[*Session]chan struct{}
	expiry   map[*Session]*time.Timer
}

func NewServer(hub *Hub, auth Authenticator, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		hub:  hub,
		auth: auth,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		replaced: map[*Session]chan struct{}{},
		expiry:   map[*Session]*time.Timer{},
	}
}

// GrantAdmin makes every session this endpoint admits an admin one.
// Only for transports that carry their own authorization, like the
// local unix socket.
func (s *Server) GrantAdmin() {
	s.admin = true
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		sess, fresh := s.admit(rw, r)
		if sess == nil {
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.run(r.Context(), conn, sess, fresh)
	}
}

// admit resolves the request to a session: resume token first, then
// bearer auth for a fresh session.
func (s *Server) admit(rw http.ResponseWriter, r *http.Request) (*Session, bool) {
	if token := r.URL.Query().Get("resume"); token != "" {
		if sess, ok := s.hub.Resume(token); ok {
			return sess, false
		}
		http.Error(rw, "unknown resume token", http.StatusForbidden)
		return nil, false
	}
	token := bearer(r)
	if token == "" {
		http.Error(rw, "missing token", http.StatusUnauthorized)
		return nil, false
	}
	player, err := s.auth.Verify(token)
	if err != nil {
		http.Error(rw, "bad token", http.StatusForbidden)
		return nil, false
	}
	return s.hub.Connect(player, s.admin), true
}

func (s *Server) run(ctx context.Context, conn *websocket.Conn, sess *Session, fresh bool) {
	mine := s.attach(sess)
	defer s.detach(sess, mine)

	// Writer pump. Exactly one per session: attach displaced any
	// predecessor.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-mine:
				return
			case <-sess.Done():
				if frame := sess.LostFrame(); frame != nil {
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					_ = conn.WriteMessage(websocket.BinaryMessage, frame)
				}
				_ = conn.Close()
				return
			case frame, ok := <-sess.Out():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return
				}
			}
		}
	}()

	if fresh {
		sess.Push(protocol.Welcome{
			Player:      sess.Principal().Player,
			Server:      s.hub.cfg.LocalServer,
			ResumeToken: sess.ResumeToken(),
		})
	}

	limiter := s.hub.limiter()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if !limiter.Allow() {
			sess.Close("inbound flood")
			break
		}
		msg, err := protocol.DecodeClient(data)
		if err != nil {
			s.log.Printf("[ws %s] %v", sess, err)
			continue
		}
		msgCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		sess.Handle(msgCtx, msg)
		cancel()
	}
	<-writerDone
}

// attach makes this connection the session's active transport,
// displacing any previous one.
func (s *Server) attach(sess *Session) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.replaced[sess]; ok {
		close(prev)
	}
	if t, ok := s.expiry[sess]; ok {
		t.Stop()
		delete(s.expiry, sess)
	}
	mine := make(chan struct{})
	s.replaced[sess] = mine
	return mine
}

// detach arms the resume grace timer; the session survives until it
// fires or a reconnect attaches.
func (s *Server) detach(sess *Session, mine chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaced[sess] != mine {
		// Displaced by a resume; nothing to arm.
		return
	}
	delete(s.replaced, sess)
	if sess.done() {
		return
	}
	s.expiry[sess] = time.AfterFunc(s.hub.cfg.ResumeGrace, func() {
		sess.Close("session expired")
		s.mu.Lock()
		delete(s.expiry, sess)
		s.mu.Unlock()
	})
}
