// Package keyfile is the user-facing surface of the client: an authenticated
// handle on one keyfile in one PIMS server, with typed pseudonymize,
// reidentify, existence and key-management operations. Keyfile metadata is
// fetched once and cached for the lifetime of the handle.
package keyfile

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pims/pkg/domain"
	dErrors "pims/pkg/domain-errors"
	"pims/pkg/wire"
)

// KeyFile is a handle on one keyfile. Safe for concurrent use.
type KeyFile struct {
	id     int
	client *wire.Client
	logger *slog.Logger
	tracer trace.Tracer

	mu   sync.Mutex
	info *wire.KeyfileInfo
}

// Option configures a KeyFile.
type Option func(*KeyFile)

// WithLogger injects a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(k *KeyFile) { k.logger = logger }
}

// New binds a keyfile id to a protocol client. A nil client is allowed so
// handles can be constructed up front; operations on an unconnected handle
// fail cleanly instead of panicking.
func New(id int, client *wire.Client, opts ...Option) *KeyFile {
	k := &KeyFile{
		id:     id,
		client: client,
		logger: slog.Default(),
		tracer: otel.Tracer("pims/keyfile"),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ID returns the server-side keyfile id.
func (k *KeyFile) ID() int {
	return k.id
}

func (k *KeyFile) connected() error {
	if k.client == nil {
		return dErrors.Newf(dErrors.CodeNoConnection,
			"keyfile %d is not connected to any server", k.id)
	}
	return nil
}

// Info returns the keyfile's metadata, fetching it on first use. Failed
// fetches are not cached, so a transient error does not poison the handle.
func (k *KeyFile) Info(ctx context.Context) (wire.KeyfileInfo, error) {
	if err := k.connected(); err != nil {
		return wire.KeyfileInfo{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.info != nil {
		return *k.info, nil
	}

	info, err := k.client.KeyFiles().Get(ctx, k.id)
	if err != nil {
		return wire.KeyfileInfo{}, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"fetch metadata of keyfile %d", k.id)
	}
	k.info = &info
	k.logger.Debug("keyfile metadata cached", "keyfile_id", k.id, "name", info.Name)
	return info, nil
}

// Name returns the keyfile's display name.
func (k *KeyFile) Name(ctx context.Context) (string, error) {
	info, err := k.Info(ctx)
	return info.Name, err
}

// Description returns the keyfile's description.
func (k *KeyFile) Description(ctx context.Context) (string, error) {
	info, err := k.Info(ctx)
	return info.Description, err
}

// PseudonymTemplate returns the raw server-side template string, which holds
// the templates of all value types in one line.
func (k *KeyFile) PseudonymTemplate(ctx context.Context) (string, error) {
	info, err := k.Info(ctx)
	return info.PseudonymTemplate, err
}

// Members returns the user role bindings on this keyfile.
func (k *KeyFile) Members(ctx context.Context) ([]wire.Member, error) {
	info, err := k.Info(ctx)
	return info.Members, err
}

// Pseudonymize maps each identifier to its pseudonym, creating new
// pseudonyms server-side where needed. Results are type-checked: an unknown
// source tag coming back from the server fails the whole call.
func (k *KeyFile) Pseudonymize(ctx context.Context, identifiers []domain.Identifier) ([]domain.Key, error) {
	ctx, span := k.span(ctx, "KeyFile.Pseudonymize", len(identifiers))
	defer span.End()

	if err := k.connected(); err != nil {
		return nil, err
	}
	keys, err := k.client.KeyFiles().Pseudonymize(ctx, k.id, identifiers)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"pseudonymize in keyfile %d", k.id)
	}
	typed, err := domain.TypedKeys(keys)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"pseudonymize in keyfile %d", k.id)
	}
	return typed, nil
}

// Reidentify resolves pseudonyms back to identities, omitting pseudonyms the
// keyfile does not know.
func (k *KeyFile) Reidentify(ctx context.Context, pseudonyms []domain.Pseudonym) ([]domain.Key, error) {
	ctx, span := k.span(ctx, "KeyFile.Reidentify", len(pseudonyms))
	defer span.End()

	if err := k.connected(); err != nil {
		return nil, err
	}
	keys, err := k.client.Identities().Reidentify(ctx, k.id, pseudonyms)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"reidentify in keyfile %d", k.id)
	}
	typed, err := domain.TypedKeys(keys)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"reidentify in keyfile %d", k.id)
	}
	return typed, nil
}

// ReidentifyStrict resolves pseudonyms back to identities and fails on the
// first pseudonym the keyfile does not know.
func (k *KeyFile) ReidentifyStrict(ctx context.Context, pseudonyms []domain.Pseudonym) ([]domain.Key, error) {
	ctx, span := k.span(ctx, "KeyFile.ReidentifyStrict", len(pseudonyms))
	defer span.End()

	if err := k.connected(); err != nil {
		return nil, err
	}
	keys, err := k.client.Identities().ReidentifyStrict(ctx, k.id, pseudonyms)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"reidentify (strict) in keyfile %d", k.id)
	}
	typed, err := domain.TypedKeys(keys)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"reidentify (strict) in keyfile %d", k.id)
	}
	return typed, nil
}

// ExistsResult carries the outcome of an existence check, keyed by the exact
// elements passed in.
type ExistsResult struct {
	Identifiers map[domain.Identifier]bool
	Pseudonyms  map[domain.Pseudonym]bool
}

// Exists checks which of the given identifiers and pseudonyms the keyfile
// already holds. The two element kinds go to their own endpoints, so they are
// passed as two explicit lists.
func (k *KeyFile) Exists(ctx context.Context, identifiers []domain.Identifier, pseudonyms []domain.Pseudonym) (ExistsResult, error) {
	ctx, span := k.span(ctx, "KeyFile.Exists", len(identifiers)+len(pseudonyms))
	defer span.End()

	if err := k.connected(); err != nil {
		return ExistsResult{}, err
	}

	identifierHits, err := k.client.Identities().Exists(ctx, k.id, identifiers)
	if err != nil {
		span.RecordError(err)
		return ExistsResult{}, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"check existence in keyfile %d", k.id)
	}
	pseudonymHits, err := k.client.Pseudonyms().Exists(ctx, k.id, pseudonyms)
	if err != nil {
		span.RecordError(err)
		return ExistsResult{}, dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"check existence in keyfile %d", k.id)
	}
	return ExistsResult{Identifiers: identifierHits, Pseudonyms: pseudonymHits}, nil
}

// SetKeys writes explicit identity-pseudonym pairs into the keyfile. The
// server silently skips pairs whose identity already exists, which would
// leave the keyfile and the caller's bookkeeping out of sync; to fail loudly
// instead, the incoming pseudonyms are reidentified first and any hit aborts
// the whole write.
func (k *KeyFile) SetKeys(ctx context.Context, keys []domain.Key) error {
	ctx, span := k.span(ctx, "KeyFile.SetKeys", len(keys))
	defer span.End()

	if err := k.connected(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	pseudonyms := make([]domain.Pseudonym, len(keys))
	for i, key := range keys {
		pseudonyms[i] = key.Pseudonym
	}
	existing, err := k.client.Identities().Reidentify(ctx, k.id, pseudonyms)
	if err != nil {
		span.RecordError(err)
		return dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"set keys in keyfile %d", k.id)
	}
	if len(existing) > 0 {
		described := make([]string, len(existing))
		for i, key := range existing {
			described[i] = key.Describe()
		}
		err := dErrors.Newf(dErrors.CodeConflict,
			"%d keys already exist in keyfile %d: %v; overwriting would make the keyfile inconsistent",
			len(existing), k.id, described)
		span.RecordError(err)
		return err
	}

	if err := k.client.Identities().Set(ctx, k.id, keys); err != nil {
		span.RecordError(err)
		return dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"set keys in keyfile %d", k.id)
	}
	k.logger.Info("keys set", "keyfile_id", k.id, "count", len(keys))
	return nil
}

// Delete removes identifiers and their pseudonyms from the keyfile.
func (k *KeyFile) Delete(ctx context.Context, identifiers []domain.Identifier) error {
	ctx, span := k.span(ctx, "KeyFile.Delete", len(identifiers))
	defer span.End()

	if err := k.connected(); err != nil {
		return err
	}
	if err := k.client.Identities().Delete(ctx, k.id, identifiers); err != nil {
		span.RecordError(err)
		return dErrors.Wrapf(err, dErrors.CodeKeyfileOperation,
			"delete from keyfile %d", k.id)
	}
	return nil
}

func (k *KeyFile) span(ctx context.Context, name string, items int) (context.Context, trace.Span) {
	return k.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int("pims.keyfile_id", k.id),
		attribute.Int("pims.items", items),
	))
}
