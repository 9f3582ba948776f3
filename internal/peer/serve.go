package peer

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"spadina.network/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler accepts inbound federation links. The dialer speaks first
// with a hello naming itself; we verify it, answer with our own, and
// serve the link.
func (m *Mesh) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.DecodePeer(data)
		if err != nil {
			return
		}
		hello, ok := frame.(*protocol.PeerHello)
		if !ok || hello.Version != protocol.Version {
			return
		}
		server, err := m.cfg.Verifier.VerifyPeer(hello.Token)
		if err != nil || server != hello.Server {
			m.log.Printf("[peer] rejected hello claiming %s: %v", hello.Server, err)
			return
		}
		if reason, banned := m.Banned(server); banned {
			m.log.Printf("[peer] refused banned server %s: %s", server, reason)
			return
		}

		token, err := m.cfg.Tokens.IssuePeer(server)
		if err != nil {
			return
		}
		reply, err := protocol.EncodePeer(protocol.PeerHello{
			Server:  m.cfg.LocalServer,
			Version: protocol.Version,
			Token:   token,
		})
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
			return
		}

		l := newLink(m, server, false)
		if !m.adopt(l) {
			return
		}
		l.serve(conn)
	}
}
