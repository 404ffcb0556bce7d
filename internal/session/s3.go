package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/kuitang/storefront-e2e/internal/obs"
	"github.com/kuitang/storefront-e2e/internal/s3client"
)

// S3Store keeps the state in one object so several CI runners can share a login.
// Last writer wins; a PUT replaces the object as a whole.
type S3Store struct {
	client *s3client.Client
	key    string
	codec  *Codec
}

func NewS3Store(client *s3client.Client, key string, codec *Codec) *S3Store {
	if codec == nil {
		codec = &Codec{}
	}
	return &S3Store{client: client, key: key, codec: codec}
}

func (s *S3Store) Location() string { return s.client.URI(s.key) }

func (s *S3Store) Load(ctx context.Context) (*State, error) {
	data, err := s.client.GetObject(ctx, s.key)
	if errors.Is(err, s3client.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", s.Location(), err)
	}
	return s.codec.Decode(data)
}

func (s *S3Store) Save(ctx context.Context, st *State) error {
	data, err := s.codec.Encode(st)
	if err != nil {
		return err
	}
	if err := s.client.PutObject(ctx, s.key, data, "application/json"); err != nil {
		return fmt.Errorf("session: save %s: %w", s.Location(), err)
	}
	obs.From(ctx).With("pkg", "session").Info("state_saved",
		"location", s.Location(),
		"origin", st.Origin,
		"sealed", s.codec.Sealed(),
		"bytes", len(data),
	)
	return nil
}

func (s *S3Store) Delete(ctx context.Context) error {
	if err := s.client.DeleteObject(ctx, s.key); err != nil {
		return fmt.Errorf("session: delete %s: %w", s.Location(), err)
	}
	return nil
}
