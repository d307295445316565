package cache

import (
	"encoding/json"
	"time"
)

// Codec serializes values for the remote tier. The engine never inspects
// the payload bytes; it only round-trips them through the Store.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSONCodec is the default Codec. It works for any value encoding/json can
// handle; supply a custom Codec for anything else.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Marshal(v V) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

// envelope is the wire format stored in the remote tier: the codec-encoded
// payload plus the expiration metadata another instance needs to rebuild
// the entry's lifecycle. The remote key lives slightly longer than the
// hard TTL (until the fail-safe window closes), so the hard deadline is
// carried explicitly; a remote hit past it is only good as a fail-safe
// candidate, never as an authoritative value.
type envelope struct {
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
	LastGoodAt    time.Time `json:"last_good_at"`
	SoftExpiresAt time.Time `json:"soft_expires_at"`
	HardExpiresAt time.Time `json:"hard_expires_at"`
	Tags          []string  `json:"tags,omitempty"`
}

func encodeEnvelope(payload []byte, m entryMeta) ([]byte, error) {
	return json.Marshal(envelope{
		Payload:       payload,
		CreatedAt:     nanoTime(m.createdAt),
		LastGoodAt:    nanoTime(m.lastGoodAt),
		SoftExpiresAt: nanoTime(m.softExp),
		HardExpiresAt: nanoTime(m.hardExp),
		Tags:          m.tags,
	})
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// nanoTime converts a UnixNano deadline to time.Time, keeping the
// "zero means disabled" convention.
func nanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// timeNano is the inverse of nanoTime.
func timeNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
