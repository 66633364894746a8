package service

import (
	"context"
	"log/slog"
	"maps"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/state"
)

// KeyStore persists cfg/sec/usr key data. storage.Engine implements it.
type KeyStore interface {
	Set(ctx context.Context, p domain.ObjectPath, name string, value []byte) (domain.KeyMeta, error)
	Get(ctx context.Context, p domain.ObjectPath, name string) ([]byte, domain.KeyMeta, error)
	Delete(ctx context.Context, p domain.ObjectPath, name string) error
	Keys(ctx context.Context, p domain.ObjectPath) ([]string, error)
	Metas(ctx context.Context) (map[string]map[string]domain.KeyMeta, error)
}

// KeyService applies key changes to the store and publishes the key
// metadata in the local dataset.
type KeyService struct {
	store  KeyStore
	state  *state.DaemonState
	logger *slog.Logger
}

// NewKeyService creates a KeyService.
func NewKeyService(store KeyStore, st *state.DaemonState, logger *slog.Logger) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{
		store:  store,
		state:  st,
		logger: logger.With("component", "keys"),
	}
}

// Load publishes the metadata of every stored key. Called once at
// startup.
func (s *KeyService) Load(ctx context.Context) error {
	metas, err := s.store.Metas(ctx)
	if err != nil {
		return err
	}
	_, err = s.state.Update(state.SubKeys, func(d *state.NodeData) {
		d.Keys = metas
	})
	if err != nil {
		return domain.ErrInternalServer.WithCause(err)
	}
	s.logger.Info("keys loaded", "objects", len(metas))
	return nil
}

// Set stores a key value.
func (s *KeyService) Set(ctx context.Context, p domain.ObjectPath, name string, value []byte) (domain.KeyMeta, error) {
	meta, err := s.store.Set(ctx, p, name, value)
	if err != nil {
		return domain.KeyMeta{}, err
	}
	path := p.String()
	if err := s.publish(path, func(keys map[string]domain.KeyMeta) {
		keys[name] = meta
	}); err != nil {
		return domain.KeyMeta{}, err
	}
	s.state.Publish(domain.EventKeySet, path, map[string]any{"key": name, "digest": meta.Digest})
	s.state.Enqueue([]string{"set_key", path, name}, map[string]any{"size": meta.Size})
	return meta, nil
}

// Get returns a key value.
func (s *KeyService) Get(ctx context.Context, p domain.ObjectPath, name string) ([]byte, error) {
	value, _, err := s.store.Get(ctx, p, name)
	return value, err
}

// Delete removes a key.
func (s *KeyService) Delete(ctx context.Context, p domain.ObjectPath, name string) error {
	if err := s.store.Delete(ctx, p, name); err != nil {
		return err
	}
	path := p.String()
	if err := s.publish(path, func(keys map[string]domain.KeyMeta) {
		delete(keys, name)
	}); err != nil {
		return err
	}
	s.state.Publish(domain.EventKeyDelete, path, map[string]any{"key": name})
	s.state.Enqueue([]string{"delete_key", path, name}, nil)
	return nil
}

// Keys returns the sorted key names of p.
func (s *KeyService) Keys(ctx context.Context, p domain.ObjectPath) ([]string, error) {
	return s.store.Keys(ctx, p)
}

func (s *KeyService) publish(path string, fn func(map[string]domain.KeyMeta)) error {
	_, err := s.state.Update(state.SubKeys, func(d *state.NodeData) {
		keys := maps.Clone(d.Keys[path])
		if keys == nil {
			keys = make(map[string]domain.KeyMeta)
		}
		fn(keys)
		if len(keys) == 0 {
			delete(d.Keys, path)
			return
		}
		d.Keys[path] = keys
	})
	if err != nil {
		return domain.ErrInternalServer.WithCause(err)
	}
	return nil
}
