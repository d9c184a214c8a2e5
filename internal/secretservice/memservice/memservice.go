// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package memservice is an in-process secret service. It backs the "memory"
// backend and doubles as the transport fake in tests: it counts calls per
// method, can fail or block any method, and can refuse unlock prompts.
package memservice

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/imvault/imvault/internal/secretservice"
)

// Method names used for call counting and fault injection.
const (
	MethodConnect            = "Connect"
	MethodCollections        = "Collections"
	MethodCollectionForAlias = "CollectionForAlias"
	MethodLoadItems          = "LoadItems"
	MethodIsLocked           = "IsLocked"
	MethodUnlock             = "Unlock"
	MethodLock               = "Lock"
	MethodCreateItem         = "CreateItem"
	MethodSearchItems        = "SearchItems"
	MethodDeleteItem         = "DeleteItem"
	MethodClose              = "Close"
)

// BackendName is the registry name of the shared in-process service.
const BackendName = "memory"

const basePath = "/org/freedesktop/secrets/collection/"

// DefaultLabel is the label of the collection created by New.
const DefaultLabel = "Login"

var shared = New()

func init() {
	secretservice.Register(BackendName, func(secretservice.Options) (secretservice.Connector, error) {
		return shared.Connector(), nil
	})
}

// Shared returns the process-wide instance behind the "memory" backend.
func Shared() *Service {
	return shared
}

type collection struct {
	id     string
	label  string
	locked bool
	items  []*secretservice.Item
}

// Service is an in-memory secret service. Safe for concurrent use.
type Service struct {
	mu          sync.Mutex
	collections []*collection
	handles     map[string]*collection
	aliases     map[string]*collection
	calls       map[string]int
	failures    map[string]error
	gates       map[string]chan struct{}
	unavailable bool
	denyUnlock  bool
	rehandle    bool
	nextItem    int
	nextHandle  int
}

// Option configures a Service.
type Option func(*Service)

// WithoutDefault creates the service with no collections at all.
func WithoutDefault() Option {
	return func(s *Service) {
		s.collections = nil
		s.handles = map[string]*collection{}
		s.aliases = map[string]*collection{}
	}
}

// WithLockedDefault starts the default collection locked.
func WithLockedDefault() Option {
	return func(s *Service) {
		if c := s.aliases[secretservice.DefaultAlias]; c != nil {
			c.locked = true
		}
	}
}

// WithRehandleOnUnlock makes Unlock return a fresh handle path for the same
// collection, as real services may do.
func WithRehandleOnUnlock() Option {
	return func(s *Service) { s.rehandle = true }
}

// New creates a service holding one unlocked "Login" collection aliased as
// "default".
func New(opts ...Option) *Service {
	s := &Service{
		handles:  map[string]*collection{},
		aliases:  map[string]*collection{},
		calls:    map[string]int{},
		failures: map[string]error{},
		gates:    map[string]chan struct{}{},
	}
	c := s.addCollectionLocked(DefaultLabel, false)
	s.aliases[secretservice.DefaultAlias] = c

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connector returns a connector that hands out this instance.
func (s *Service) Connector() secretservice.Connector {
	return func(ctx context.Context) (secretservice.Service, error) {
		if err := s.enter(ctx, MethodConnect); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// AddCollection creates a named collection and returns its handle.
func (s *Service) AddCollection(label string, locked bool) secretservice.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.addCollectionLocked(label, locked)
	return secretservice.Collection{Path: basePath + c.id, Label: c.label}
}

func (s *Service) addCollectionLocked(label string, locked bool) *collection {
	id := strings.ToLower(strings.ReplaceAll(label, " ", "_"))
	if id == "" {
		id = "unnamed"
	}
	for s.handles[basePath+id] != nil {
		id += "_"
	}
	c := &collection{id: id, label: label, locked: locked}
	s.collections = append(s.collections, c)
	s.handles[basePath+id] = c
	return c
}

// SetLocked changes the lock state of the collection labelled label.
func (s *Service) SetLocked(label string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		if c.label == label {
			c.locked = locked
		}
	}
}

// Locked reports the lock state of the collection labelled label.
func (s *Service) Locked(label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		if c.label == label {
			return c.locked
		}
	}
	return false
}

// SetAvailable simulates the transport going away or coming back.
func (s *Service) SetAvailable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = !ok
}

// DenyUnlock makes every unlock prompt come back dismissed.
func (s *Service) DenyUnlock(deny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyUnlock = deny
}

// Fail makes method return err until cleared with a nil err.
func (s *Service) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Block holds every call to method until the returned release func runs.
func (s *Service) Block(method string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[method] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[method] == ch {
				delete(s.gates, method)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how often method has been invoked.
func (s *Service) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls sums the calls of every method except Connect and Close.
func (s *Service) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for m, c := range s.calls {
		if m != MethodConnect && m != MethodClose {
			n += c
		}
	}
	return n
}

// ResetCalls zeroes all call counters.
func (s *Service) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[string]int{}
}

// Items returns copies of every item in the collection labelled label.
func (s *Service) Items(label string) []secretservice.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []secretservice.Item
	for _, c := range s.collections {
		if c.label != label {
			continue
		}
		for _, it := range c.items {
			out = append(out, copyItem(it, true))
		}
	}
	return out
}

// Put stores an item directly, bypassing lock state and counters.
func (s *Service) Put(label string, item secretservice.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		if c.label == label {
			s.nextItem++
			it := copyItem(&item, true)
			it.Path = fmt.Sprintf("%s%s/%d", basePath, c.id, s.nextItem)
			c.items = append(c.items, &it)
			return
		}
	}
}

func (s *Service) enter(ctx context.Context, method string) error {
	s.mu.Lock()
	s.calls[method]++
	gate := s.gates[method]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return fmt.Errorf("%s: %w", method, secretservice.ErrUnavailable)
	}
	if err := s.failures[method]; err != nil {
		return err
	}
	return nil
}

func (s *Service) resolve(c secretservice.Collection) (*collection, error) {
	col, ok := s.handles[c.Path]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", c.Path, secretservice.ErrNoSuchObject)
	}
	return col, nil
}

func (s *Service) handleFor(col *collection) secretservice.Collection {
	return secretservice.Collection{Path: basePath + col.id, Label: col.label}
}

func (s *Service) Collections(ctx context.Context) ([]secretservice.Collection, error) {
	if err := s.enter(ctx, MethodCollections); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]secretservice.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, s.handleFor(c))
	}
	return out, nil
}

func (s *Service) CollectionForAlias(ctx context.Context, alias string) (secretservice.Collection, error) {
	if err := s.enter(ctx, MethodCollectionForAlias); err != nil {
		return secretservice.Collection{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.aliases[alias]
	if !ok {
		return secretservice.Collection{}, fmt.Errorf("alias %q: %w", alias, secretservice.ErrNoSuchObject)
	}
	return s.handleFor(c), nil
}

func (s *Service) LoadItems(ctx context.Context, c secretservice.Collection) (int, error) {
	if err := s.enter(ctx, MethodLoadItems); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.resolve(c)
	if err != nil {
		return 0, err
	}
	return len(col.items), nil
}

func (s *Service) IsLocked(ctx context.Context, c secretservice.Collection) (bool, error) {
	if err := s.enter(ctx, MethodIsLocked); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.resolve(c)
	if err != nil {
		return false, err
	}
	return col.locked, nil
}

func (s *Service) Unlock(ctx context.Context, c secretservice.Collection) (secretservice.Collection, error) {
	if err := s.enter(ctx, MethodUnlock); err != nil {
		return secretservice.Collection{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.resolve(c)
	if err != nil {
		return secretservice.Collection{}, err
	}
	if err := s.unlockLocked(col); err != nil {
		return secretservice.Collection{}, err
	}
	if !s.rehandle {
		return s.handleFor(col), nil
	}
	s.nextHandle++
	h := secretservice.Collection{Path: fmt.Sprintf("%s%s/h%d", basePath, col.id, s.nextHandle), Label: col.label}
	s.handles[h.Path] = col
	return h, nil
}

func (s *Service) unlockLocked(col *collection) error {
	if !col.locked {
		return nil
	}
	if s.denyUnlock {
		return fmt.Errorf("unlocking %s: %w", col.label, secretservice.ErrDismissed)
	}
	col.locked = false
	return nil
}

func (s *Service) Lock(ctx context.Context, c secretservice.Collection) error {
	if err := s.enter(ctx, MethodLock); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.resolve(c)
	if err != nil {
		return err
	}
	col.locked = true
	return nil
}

func (s *Service) CreateItem(ctx context.Context, c secretservice.Collection, item secretservice.Item, replace bool) (secretservice.Item, error) {
	if err := s.enter(ctx, MethodCreateItem); err != nil {
		return secretservice.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.resolve(c)
	if err != nil {
		return secretservice.Item{}, err
	}
	if col.locked {
		return secretservice.Item{}, fmt.Errorf("creating item in %s: %w", col.label, secretservice.ErrLocked)
	}

	if replace {
		for _, it := range col.items {
			if maps.Equal(it.Attributes, item.Attributes) {
				it.Label = item.Label
				it.Secret = append([]byte(nil), item.Secret...)
				it.ContentType = item.ContentType
				return copyItem(it, false), nil
			}
		}
	}

	s.nextItem++
	stored := copyItem(&item, true)
	stored.Path = fmt.Sprintf("%s%s/%d", basePath, col.id, s.nextItem)
	col.items = append(col.items, &stored)
	return copyItem(&stored, false), nil
}

func (s *Service) SearchItems(ctx context.Context, c secretservice.Collection, attrs map[string]string, unlock bool) ([]secretservice.Item, error) {
	if err := s.enter(ctx, MethodSearchItems); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.resolve(c)
	if err != nil {
		return nil, err
	}
	if unlock {
		if err := s.unlockLocked(col); err != nil {
			return nil, err
		}
	}

	var out []secretservice.Item
	for _, it := range col.items {
		if secretservice.MatchAttributes(it.Attributes, attrs) {
			out = append(out, copyItem(it, unlock && !col.locked))
		}
	}
	return out, nil
}

func (s *Service) DeleteItem(ctx context.Context, item secretservice.Item) error {
	if err := s.enter(ctx, MethodDeleteItem); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range s.collections {
		for i, it := range col.items {
			if it.Path == item.Path {
				col.items = append(col.items[:i], col.items[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("item %s: %w", item.Path, secretservice.ErrNoSuchObject)
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[MethodClose]++
	return nil
}

func copyItem(it *secretservice.Item, withSecret bool) secretservice.Item {
	out := secretservice.Item{
		Path:        it.Path,
		Label:       it.Label,
		Attributes:  maps.Clone(it.Attributes),
		ContentType: it.ContentType,
	}
	if withSecret {
		out.Secret = append([]byte(nil), it.Secret...)
	}
	return out
}
