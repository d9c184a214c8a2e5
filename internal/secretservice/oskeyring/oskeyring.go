// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package oskeyring serves the secret service contract from the OS keyring
// via zalando/go-keyring. On macOS it uses Keychain, on Linux secret-service
// (D-Bus), and on Windows the Credential Manager. The keyring has no
// collections, so the backend exposes one always-unlocked pseudo collection
// reachable through the "default" alias.
package oskeyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/secretservice"
	"github.com/zalando/go-keyring"
)

// BackendName is the registry name of this backend.
const BackendName = "keyring"

// DefaultService is the keyring service prefix used when none is configured.
const DefaultService = "imvault"

// CollectionLabel is the label of the single pseudo collection.
const CollectionLabel = "login"

const (
	collectionPath = "keyring://" + CollectionLabel
	// indexKey names the entry holding the JSON index of stored identities.
	// go-keyring cannot enumerate, so the index makes LoadItems and
	// attribute-subset searches possible.
	indexKey = "::keys-index"
)

func init() {
	secretservice.Register(BackendName, func(opts secretservice.Options) (secretservice.Connector, error) {
		return NewConnector(opts.KeyringService), nil
	})
}

// NewConnector returns a connector whose entries live under the given
// service prefix.
func NewConnector(service string) secretservice.Connector {
	if service == "" {
		service = DefaultService
	}
	return func(ctx context.Context) (secretservice.Service, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Service{prefix: service}, nil
	}
}

// Service implements secretservice.Service on top of go-keyring.
type Service struct {
	// mu serializes index read-modify-write cycles.
	mu     sync.Mutex
	prefix string
}

func (s *Service) collection() secretservice.Collection {
	return secretservice.Collection{Path: collectionPath, Label: CollectionLabel}
}

func (s *Service) checkCollection(c secretservice.Collection) error {
	if c.Path != collectionPath {
		return fmt.Errorf("collection %s: %w", c.Path, secretservice.ErrNoSuchObject)
	}
	return nil
}

func (s *Service) serviceFor(id credential.Identity) string {
	return s.prefix + ":" + id.ProtocolID
}

func itemPath(id credential.Identity) string {
	return collectionPath + "/" + id.ProtocolID + "/" + id.Username
}

func (s *Service) Collections(ctx context.Context) ([]secretservice.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []secretservice.Collection{s.collection()}, nil
}

func (s *Service) CollectionForAlias(ctx context.Context, alias string) (secretservice.Collection, error) {
	if err := ctx.Err(); err != nil {
		return secretservice.Collection{}, err
	}
	if alias != secretservice.DefaultAlias {
		return secretservice.Collection{}, fmt.Errorf("alias %q: %w", alias, secretservice.ErrNoSuchObject)
	}
	return s.collection(), nil
}

func (s *Service) LoadItems(ctx context.Context, c secretservice.Collection) (int, error) {
	if err := s.checkCollection(c); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.loadIndex()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Service) IsLocked(_ context.Context, c secretservice.Collection) (bool, error) {
	return false, s.checkCollection(c)
}

func (s *Service) Unlock(_ context.Context, c secretservice.Collection) (secretservice.Collection, error) {
	if err := s.checkCollection(c); err != nil {
		return secretservice.Collection{}, err
	}
	return c, nil
}

// Lock is a no-op: the OS keyring manages its own lock state.
func (s *Service) Lock(_ context.Context, c secretservice.Collection) error {
	if err := s.checkCollection(c); err != nil {
		return err
	}
	slog.Debug("keyring backend does not support locking", "collection", c.Label)
	return nil
}

func (s *Service) CreateItem(_ context.Context, c secretservice.Collection, item secretservice.Item, replace bool) (secretservice.Item, error) {
	if err := s.checkCollection(c); err != nil {
		return secretservice.Item{}, err
	}
	id, ok := credential.FromAttributes(item.Attributes)
	if !ok {
		return secretservice.Item{}, fmt.Errorf("keyring items need protocol and username attributes")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !replace {
		if _, err := keyring.Get(s.serviceFor(id), id.Username); err == nil {
			return secretservice.Item{}, fmt.Errorf("item %s already exists and keyring entries cannot be duplicated", itemPath(id))
		}
	}

	if err := keyring.Set(s.serviceFor(id), id.Username, string(item.Secret)); err != nil {
		return secretservice.Item{}, fmt.Errorf("storing %s: %w", itemPath(id), classify(err))
	}
	if err := s.addToIndex(id); err != nil {
		return secretservice.Item{}, err
	}

	return secretservice.Item{
		Path:        itemPath(id),
		Label:       item.Label,
		Attributes:  id.Attributes(),
		ContentType: item.ContentType,
	}, nil
}

func (s *Service) SearchItems(_ context.Context, c secretservice.Collection, attrs map[string]string, unlock bool) ([]secretservice.Item, error) {
	if err := s.checkCollection(c); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []credential.Identity
	if id, ok := credential.FromAttributes(attrs); ok && len(attrs) == 2 {
		candidates = []credential.Identity{id}
	} else {
		ids, err := s.loadIndex()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if secretservice.MatchAttributes(id.Attributes(), attrs) {
				candidates = append(candidates, id)
			}
		}
	}

	var out []secretservice.Item
	for _, id := range candidates {
		secret, err := keyring.Get(s.serviceFor(id), id.Username)
		if errors.Is(err, keyring.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", itemPath(id), classify(err))
		}
		it := secretservice.Item{
			Path:        itemPath(id),
			Label:       id.Label(""),
			Attributes:  id.Attributes(),
			ContentType: credential.ContentType,
		}
		if unlock {
			it.Secret = []byte(secret)
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *Service) DeleteItem(_ context.Context, item secretservice.Item) error {
	id, ok := credential.FromAttributes(item.Attributes)
	if !ok {
		return fmt.Errorf("item %s: %w", item.Path, secretservice.ErrNoSuchObject)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(s.serviceFor(id), id.Username); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("item %s: %w", item.Path, secretservice.ErrNoSuchObject)
		}
		return fmt.Errorf("deleting %s: %w", item.Path, classify(err))
	}
	return s.removeFromIndex(id)
}

func (s *Service) Close() error {
	return nil
}

// classify maps keyring failures that mean "no keyring daemon" onto
// ErrUnavailable.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "dbus") || strings.Contains(msg, "org.freedesktop") || strings.Contains(msg, "no such interface") {
		return fmt.Errorf("%w: %w", secretservice.ErrUnavailable, err)
	}
	return err
}

type indexEntry struct {
	Protocol string `json:"protocol"`
	Username string `json:"username"`
}

// loadIndex reads the JSON identity index from the keyring.
func (s *Service) loadIndex() ([]credential.Identity, error) {
	raw, err := keyring.Get(s.prefix, indexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading keyring index: %w", classify(err))
	}

	var entries []indexEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decoding keyring index: %w", err)
	}

	ids := make([]credential.Identity, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, credential.New(e.Protocol, e.Username))
	}
	return ids, nil
}

// saveIndex writes the identity index back to the keyring.
func (s *Service) saveIndex(ids []credential.Identity) error {
	if len(ids) == 0 {
		// Clean up the index entry when empty.
		if delErr := keyring.Delete(s.prefix, indexKey); delErr != nil && !errors.Is(delErr, keyring.ErrNotFound) {
			slog.Debug("failed to clean up empty keyring index", "service", s.prefix, "error", delErr)
		}
		return nil
	}

	entries := make([]indexEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, indexEntry{Protocol: id.ProtocolID, Username: id.Username})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding keyring index: %w", err)
	}
	if err := keyring.Set(s.prefix, indexKey, string(data)); err != nil {
		return fmt.Errorf("saving keyring index: %w", classify(err))
	}
	return nil
}

func (s *Service) addToIndex(id credential.Identity) error {
	ids, err := s.loadIndex()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return s.saveIndex(append(ids, id))
}

func (s *Service) removeFromIndex(id credential.Identity) error {
	ids, err := s.loadIndex()
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return s.saveIndex(filtered)
}
