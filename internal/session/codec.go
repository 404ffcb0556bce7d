package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kuitang/storefront-e2e/internal/crypto"
)

const (
	envelopeVersion = 1
	sealPurpose     = "storefront-e2e:session-state"
	sealAD          = "storefront-e2e/session-state"
)

type envelope struct {
	Version      int             `json:"version"`
	Origin       string          `json:"origin,omitempty"`
	CreatedAt    time.Time       `json:"created_at,omitzero"`
	StorageState json.RawMessage `json:"storage_state,omitempty"`
	Sealed       []byte          `json:"sealed,omitempty"`
}

// Codec converts a State to and from its persisted envelope. With a key, the inner
// envelope is sealed with AES-256-GCM.
type Codec struct {
	key []byte
}

// NewCodec returns a codec. An empty hexKey disables sealing.
func NewCodec(hexKey string) (*Codec, error) {
	if hexKey == "" {
		return &Codec{}, nil
	}
	root, err := crypto.ParseHexKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("session: STATE_ENCRYPTION_KEY: %w", err)
	}
	return &Codec{key: crypto.DeriveKey(root, sealPurpose, envelopeVersion)}, nil
}

// Sealed reports whether this codec encrypts state.
func (c *Codec) Sealed() bool {
	return c != nil && len(c.key) > 0
}

// Encode serializes st.
func (c *Codec) Encode(st *State) ([]byte, error) {
	if st == nil || len(st.StorageState) == 0 {
		return nil, fmt.Errorf("session: refusing to encode empty state")
	}
	if !json.Valid(st.StorageState) {
		return nil, fmt.Errorf("session: storage state is not JSON")
	}
	if st.CreatedAt.IsZero() {
		return nil, fmt.Errorf("session: refusing to encode state without a creation time")
	}
	inner, err := json.Marshal(envelope{
		Version:      envelopeVersion,
		Origin:       st.Origin,
		CreatedAt:    st.CreatedAt.UTC(),
		StorageState: json.RawMessage(st.StorageState),
	})
	if err != nil {
		return nil, fmt.Errorf("session: encode envelope: %w", err)
	}
	if !c.Sealed() {
		return inner, nil
	}

	sealed, err := crypto.Seal(c.key, inner, []byte(sealAD))
	if err != nil {
		return nil, fmt.Errorf("session: seal: %w", err)
	}
	return json.Marshal(envelope{Version: envelopeVersion, Sealed: sealed})
}

// Decode parses data. Every failure wraps ErrCorrupt.
func (c *Codec) Decode(data []byte) (*State, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}

	switch {
	case len(env.Sealed) > 0 && !c.Sealed():
		return nil, fmt.Errorf("%w: state is sealed but no key is configured", ErrCorrupt)
	case len(env.Sealed) == 0 && c.Sealed():
		return nil, fmt.Errorf("%w: state is not sealed", ErrCorrupt)
	case len(env.Sealed) > 0:
		inner, err := crypto.Open(c.key, env.Sealed, []byte(sealAD))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		env = envelope{}
		if err := json.Unmarshal(inner, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if env.Version != envelopeVersion {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
		}
	}

	if len(env.StorageState) == 0 || string(env.StorageState) == "null" {
		return nil, fmt.Errorf("%w: empty storage state", ErrCorrupt)
	}
	if env.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing created_at", ErrCorrupt)
	}
	return &State{
		CreatedAt:    env.CreatedAt,
		Origin:       env.Origin,
		StorageState: []byte(env.StorageState),
	}, nil
}
