// Package protocol defines the MessagePack wire format shared by the
// client WebSocket endpoint and the federation link: tagged unions
// encoded as a {tag, body} envelope, plus the error taxonomy that maps
// failures onto user-visible verdicts.
package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Version is exchanged during handshakes; mismatches are refused.
const Version = 1

type envelope struct {
	Tag  string             `msgpack:"t"`
	Seq  uint64             `msgpack:"q,omitempty"`
	Body msgpack.RawMessage `msgpack:"b"`
}

func encode(tag string, seq uint64, body any) ([]byte, error) {
	b, err := msgpack.Marshal(body)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(envelope{Tag: tag, Seq: seq, Body: b})
}

// ClientMessage is one client-to-server request.
type ClientMessage interface{ clientTag() string }

// ServerMessage is one server-to-client response or push.
type ServerMessage interface{ serverTag() string }

// PeerFrame is one frame on a federation link.
type PeerFrame interface{ peerTag() string }

func EncodeClient(m ClientMessage) ([]byte, error) {
	return encode(m.clientTag(), 0, m)
}

func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("client frame: %w", err)
	}
	mk, ok := clientTypes[env.Tag]
	if !ok {
		return nil, fmt.Errorf("client frame: unknown tag %q", env.Tag)
	}
	m := mk()
	if err := msgpack.Unmarshal(env.Body, m); err != nil {
		return nil, fmt.Errorf("client %s: %w", env.Tag, err)
	}
	return m, nil
}

// EncodeServer stamps the session's outbound sequence onto the frame.
func EncodeServer(seq uint64, m ServerMessage) ([]byte, error) {
	return encode(m.serverTag(), seq, m)
}

func DecodeServer(data []byte) (uint64, ServerMessage, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return 0, nil, fmt.Errorf("server frame: %w", err)
	}
	mk, ok := serverTypes[env.Tag]
	if !ok {
		return 0, nil, fmt.Errorf("server frame: unknown tag %q", env.Tag)
	}
	m := mk()
	if err := msgpack.Unmarshal(env.Body, m); err != nil {
		return 0, nil, fmt.Errorf("server %s: %w", env.Tag, err)
	}
	return env.Seq, m, nil
}

func EncodePeer(m PeerFrame) ([]byte, error) {
	return encode(m.peerTag(), 0, m)
}

func DecodePeer(data []byte) (PeerFrame, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("peer frame: %w", err)
	}
	mk, ok := peerTypes[env.Tag]
	if !ok {
		return nil, fmt.Errorf("peer frame: unknown tag %q", env.Tag)
	}
	m := mk()
	if err := msgpack.Unmarshal(env.Body, m); err != nil {
		return nil, fmt.Errorf("peer %s: %w", env.Tag, err)
	}
	return m, nil
}
