// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package dbussecret talks to org.freedesktop.secrets (GNOME Keyring,
// KWallet, KeePassXC) over the D-Bus session bus.
package dbussecret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/godbus/dbus/v5"
	"github.com/imvault/imvault/internal/secretservice"
)

// BackendName is the registry name of this backend.
const BackendName = "dbus"

func init() {
	secretservice.Register(BackendName, func(opts secretservice.Options) (secretservice.Connector, error) {
		return NewConnector(opts.SessionBus), nil
	})
}

// NewConnector returns a connector for the session bus at address, or the
// default session bus when address is empty.
func NewConnector(address string) secretservice.Connector {
	return func(ctx context.Context) (secretservice.Service, error) {
		var (
			conn *dbus.Conn
			err  error
		)
		if address != "" {
			conn, err = dbus.Connect(address)
		} else {
			conn, err = dbus.ConnectSessionBus()
		}
		if err != nil {
			return nil, fmt.Errorf("connecting to session bus: %w: %w", secretservice.ErrUnavailable, err)
		}

		s := &Service{conn: conn, svc: conn.Object(ServiceName, ServicePath)}
		var output dbus.Variant
		err = s.svc.CallWithContext(ctx, ServiceInterface+".OpenSession", 0, AlgorithmPlain, dbus.MakeVariant("")).
			Store(&output, &s.session)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("opening secret service session: %w", classify(err))
		}
		return s, nil
	}
}

// Service is one open session with the Secret Service.
type Service struct {
	conn    *dbus.Conn
	svc     dbus.BusObject
	session dbus.ObjectPath
}

func (s *Service) object(path dbus.ObjectPath) dbus.BusObject {
	return s.conn.Object(ServiceName, path)
}

func (s *Service) Collections(ctx context.Context) ([]secretservice.Collection, error) {
	v, err := s.svc.GetProperty(ServiceInterface + ".Collections")
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", classify(err))
	}
	paths, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, fmt.Errorf("listing collections: unexpected reply type %s", v.Signature())
	}

	out := make([]secretservice.Collection, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label, err := s.stringProperty(p, CollectionInterface+".Label")
		if err != nil {
			return nil, err
		}
		out = append(out, secretservice.Collection{Path: string(p), Label: label})
	}
	return out, nil
}

func (s *Service) CollectionForAlias(ctx context.Context, alias string) (secretservice.Collection, error) {
	var path dbus.ObjectPath
	if err := s.svc.CallWithContext(ctx, ServiceInterface+".ReadAlias", 0, alias).Store(&path); err != nil {
		return secretservice.Collection{}, fmt.Errorf("reading alias %q: %w", alias, classify(err))
	}
	if path == noPrompt || path == "" {
		return secretservice.Collection{}, fmt.Errorf("alias %q: %w", alias, secretservice.ErrNoSuchObject)
	}
	label, err := s.stringProperty(path, CollectionInterface+".Label")
	if err != nil {
		return secretservice.Collection{}, err
	}
	return secretservice.Collection{Path: string(path), Label: label}, nil
}

func (s *Service) LoadItems(_ context.Context, c secretservice.Collection) (int, error) {
	v, err := s.object(dbus.ObjectPath(c.Path)).GetProperty(CollectionInterface + ".Items")
	if err != nil {
		return 0, fmt.Errorf("loading items of %s: %w", c.Label, classify(err))
	}
	paths, _ := v.Value().([]dbus.ObjectPath)
	return len(paths), nil
}

func (s *Service) IsLocked(_ context.Context, c secretservice.Collection) (bool, error) {
	return s.locked(dbus.ObjectPath(c.Path), CollectionInterface)
}

func (s *Service) locked(path dbus.ObjectPath, iface string) (bool, error) {
	v, err := s.object(path).GetProperty(iface + ".Locked")
	if err != nil {
		return false, fmt.Errorf("reading lock state of %s: %w", path, classify(err))
	}
	locked, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("reading lock state of %s: unexpected reply type %s", path, v.Signature())
	}
	return locked, nil
}

func (s *Service) Unlock(ctx context.Context, c secretservice.Collection) (secretservice.Collection, error) {
	unlocked, err := s.unlockPaths(ctx, []dbus.ObjectPath{dbus.ObjectPath(c.Path)})
	if err != nil {
		return secretservice.Collection{}, fmt.Errorf("unlocking %s: %w", c.Label, err)
	}
	for _, p := range unlocked {
		if string(p) == c.Path {
			return c, nil
		}
	}
	if len(unlocked) == 1 {
		// The service answered with a different object for the same collection.
		label, err := s.stringProperty(unlocked[0], CollectionInterface+".Label")
		if err != nil {
			return secretservice.Collection{}, err
		}
		return secretservice.Collection{Path: string(unlocked[0]), Label: label}, nil
	}
	return secretservice.Collection{}, fmt.Errorf("unlocking %s: %w", c.Label, secretservice.ErrDismissed)
}

func (s *Service) unlockPaths(ctx context.Context, paths []dbus.ObjectPath) ([]dbus.ObjectPath, error) {
	var (
		unlocked []dbus.ObjectPath
		prompt   dbus.ObjectPath
	)
	if err := s.svc.CallWithContext(ctx, ServiceInterface+".Unlock", 0, paths).Store(&unlocked, &prompt); err != nil {
		return nil, classify(err)
	}
	if prompt == noPrompt {
		return unlocked, nil
	}

	result, err := s.prompt(ctx, prompt)
	if err != nil {
		return nil, err
	}
	more, _ := result.Value().([]dbus.ObjectPath)
	return append(unlocked, more...), nil
}

func (s *Service) Lock(ctx context.Context, c secretservice.Collection) error {
	var (
		locked []dbus.ObjectPath
		prompt dbus.ObjectPath
	)
	err := s.svc.CallWithContext(ctx, ServiceInterface+".Lock", 0, []dbus.ObjectPath{dbus.ObjectPath(c.Path)}).
		Store(&locked, &prompt)
	if err != nil {
		return fmt.Errorf("locking %s: %w", c.Label, classify(err))
	}
	if prompt != noPrompt {
		if _, err := s.prompt(ctx, prompt); err != nil {
			return fmt.Errorf("locking %s: %w", c.Label, err)
		}
	}
	return nil
}

// itemAttributes returns a copy of attrs tagged with the item schema.
func itemAttributes(attrs map[string]string) map[string]string {
	out := maps.Clone(attrs)
	if out == nil {
		out = map[string]string{}
	}
	out[schemaAttribute] = SchemaName
	return out
}

func (s *Service) CreateItem(ctx context.Context, c secretservice.Collection, item secretservice.Item, replace bool) (secretservice.Item, error) {
	attrs := itemAttributes(item.Attributes)
	props := map[string]dbus.Variant{
		ItemInterface + ".Label":      dbus.MakeVariant(item.Label),
		ItemInterface + ".Attributes": dbus.MakeVariant(attrs),
	}
	secret := Secret{
		Session:     s.session,
		Parameters:  []byte{},
		Value:       item.Secret,
		ContentType: item.ContentType,
	}

	var (
		path   dbus.ObjectPath
		prompt dbus.ObjectPath
	)
	err := s.object(dbus.ObjectPath(c.Path)).
		CallWithContext(ctx, CollectionInterface+".CreateItem", 0, props, secret, replace).
		Store(&path, &prompt)
	if err != nil {
		return secretservice.Item{}, fmt.Errorf("creating item in %s: %w", c.Label, classify(err))
	}
	if prompt != noPrompt {
		result, err := s.prompt(ctx, prompt)
		if err != nil {
			return secretservice.Item{}, fmt.Errorf("creating item in %s: %w", c.Label, err)
		}
		path, _ = result.Value().(dbus.ObjectPath)
	}

	return secretservice.Item{
		Path:        string(path),
		Label:       item.Label,
		Attributes:  attrs,
		ContentType: item.ContentType,
	}, nil
}

func (s *Service) SearchItems(ctx context.Context, c secretservice.Collection, attrs map[string]string, unlock bool) ([]secretservice.Item, error) {
	var paths []dbus.ObjectPath
	err := s.object(dbus.ObjectPath(c.Path)).
		CallWithContext(ctx, CollectionInterface+".SearchItems", 0, attrs).
		Store(&paths)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", c.Label, classify(err))
	}
	if len(paths) == 0 {
		return nil, nil
	}

	var secrets map[dbus.ObjectPath]Secret
	if unlock {
		if err := s.unlockItems(ctx, paths); err != nil {
			return nil, fmt.Errorf("searching %s: %w", c.Label, err)
		}
		err := s.svc.CallWithContext(ctx, ServiceInterface+".GetSecrets", 0, paths, s.session).Store(&secrets)
		if err != nil {
			return nil, fmt.Errorf("reading secrets from %s: %w", c.Label, classify(err))
		}
	}

	out := make([]secretservice.Item, 0, len(paths))
	for _, p := range paths {
		it, err := s.describeItem(p)
		if err != nil {
			return nil, err
		}
		if sec, ok := secrets[p]; ok {
			it.Secret = sec.Value
			it.ContentType = sec.ContentType
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *Service) unlockItems(ctx context.Context, paths []dbus.ObjectPath) error {
	var locked []dbus.ObjectPath
	for _, p := range paths {
		l, err := s.locked(p, ItemInterface)
		if err != nil {
			return err
		}
		if l {
			locked = append(locked, p)
		}
	}
	if len(locked) == 0 {
		return nil
	}
	_, err := s.unlockPaths(ctx, locked)
	return err
}

func (s *Service) describeItem(p dbus.ObjectPath) (secretservice.Item, error) {
	label, err := s.stringProperty(p, ItemInterface+".Label")
	if err != nil {
		return secretservice.Item{}, err
	}
	v, err := s.object(p).GetProperty(ItemInterface + ".Attributes")
	if err != nil {
		return secretservice.Item{}, fmt.Errorf("reading attributes of %s: %w", p, classify(err))
	}
	attrs, _ := v.Value().(map[string]string)
	return secretservice.Item{Path: string(p), Label: label, Attributes: attrs}, nil
}

func (s *Service) DeleteItem(ctx context.Context, item secretservice.Item) error {
	var prompt dbus.ObjectPath
	err := s.object(dbus.ObjectPath(item.Path)).CallWithContext(ctx, ItemInterface+".Delete", 0).Store(&prompt)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", item.Path, classify(err))
	}
	if prompt != noPrompt {
		if _, err := s.prompt(ctx, prompt); err != nil {
			return fmt.Errorf("deleting %s: %w", item.Path, err)
		}
	}
	return nil
}

func (s *Service) Close() error {
	if s.session != "" {
		if err := s.object(s.session).Call(SessionInterface+".Close", 0).Err; err != nil {
			slog.Debug("closing secret service session", "error", err)
		}
	}
	return s.conn.Close()
}

// prompt shows a service prompt and waits for its Completed signal.
func (s *Service) prompt(ctx context.Context, path dbus.ObjectPath) (dbus.Variant, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(PromptInterface),
		dbus.WithMatchMember("Completed"),
	}
	if err := s.conn.AddMatchSignal(match...); err != nil {
		return dbus.Variant{}, classify(err)
	}
	defer func() { _ = s.conn.RemoveMatchSignal(match...) }()

	signals := make(chan *dbus.Signal, 4)
	s.conn.Signal(signals)
	defer s.conn.RemoveSignal(signals)

	obj := s.object(path)
	if err := obj.CallWithContext(ctx, PromptInterface+".Prompt", 0, "").Err; err != nil {
		return dbus.Variant{}, classify(err)
	}

	for {
		select {
		case sig := <-signals:
			if sig == nil || sig.Path != path || sig.Name != PromptInterface+".Completed" {
				continue
			}
			return completed(sig.Body)
		case <-ctx.Done():
			_ = obj.Call(PromptInterface+".Dismiss", 0).Err
			return dbus.Variant{}, ctx.Err()
		}
	}
}

// completed decodes the (bv) body of a Prompt.Completed signal.
func completed(body []interface{}) (dbus.Variant, error) {
	if len(body) != 2 {
		return dbus.Variant{}, fmt.Errorf("malformed prompt completion with %d values", len(body))
	}
	dismissed, _ := body[0].(bool)
	if dismissed {
		return dbus.Variant{}, secretservice.ErrDismissed
	}
	result, _ := body[1].(dbus.Variant)
	return result, nil
}

func (s *Service) stringProperty(path dbus.ObjectPath, name string) (string, error) {
	v, err := s.object(path).GetProperty(name)
	if err != nil {
		return "", fmt.Errorf("reading %s of %s: %w", name, path, classify(err))
	}
	str, _ := v.Value().(string)
	return str, nil
}

// classify maps D-Bus error names onto the secretservice sentinels.
func classify(err error) error {
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		var ptr *dbus.Error
		if !errors.As(err, &ptr) || ptr == nil {
			return err
		}
		dbusErr = *ptr
	}

	switch dbusErr.Name {
	case errIsLocked:
		return fmt.Errorf("%w: %w", secretservice.ErrLocked, err)
	case errNoSuchObject, errUnknownObject:
		return fmt.Errorf("%w: %w", secretservice.ErrNoSuchObject, err)
	case errServiceUnknown, errNoReply, errDisconnected, errNameHasNoOwner, errNoSession, errUnknownMethod:
		return fmt.Errorf("%w: %w", secretservice.ErrUnavailable, err)
	default:
		return err
	}
}
