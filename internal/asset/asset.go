// Package asset models content-addressed realm assets: immutable
// MessagePack blobs keyed by the hex SHA3-256 of their canonical
// bytes.
package asset

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrMissing reports an id not present in a store.
	ErrMissing = errors.New("asset missing")
	// ErrMismatch reports bytes that do not hash to their claimed id.
	ErrMismatch = errors.New("asset bytes do not match id")
)

// ID is the lowercase hex SHA3-256 digest of an asset's bytes.
type ID string

const idHexLen = 64

// ComputeID hashes a blob into its id.
func ComputeID(data []byte) ID {
	sum := sha3.Sum256(data)
	return ID(hex.EncodeToString(sum[:]))
}

// Valid reports whether the id is well-formed.
func (id ID) Valid() bool {
	if len(id) != idHexLen {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Verify checks that bytes hash to the id.
func (id ID) Verify(data []byte) error {
	if ComputeID(data) != id {
		return fmt.Errorf("%w: %s", ErrMismatch, id)
	}
	return nil
}

// Envelope is the outer shape shared by every asset blob: a kind tag,
// the capability set the payload needs, and the payload itself.
type Envelope struct {
	Kind         string             `msgpack:"kind"`
	Capabilities []string           `msgpack:"capabilities"`
	Payload      msgpack.RawMessage `msgpack:"payload"`
}

// Asset kinds.
const (
	KindRealmTemplate = "realm-template"
)

// DecodeEnvelope parses the outer envelope without touching the
// payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode asset envelope: %w", err)
	}
	if env.Kind == "" {
		return Envelope{}, errors.New("asset envelope has no kind")
	}
	return env, nil
}

// EncodeEnvelope produces the canonical blob and its id.
func EncodeEnvelope(env Envelope) ([]byte, ID, error) {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encode asset envelope: %w", err)
	}
	return data, ComputeID(data), nil
}
