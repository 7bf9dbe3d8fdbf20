// Package wire is the bulk protocol adapter: it turns lists of identifiers
// and pseudonyms into correctly ordered key lists, respecting the server's
// page size limits and its response-ordering quirks. Callers above this
// package never see chunking, source partitioning or raw JSON.
package wire

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	dErrors "pims/pkg/domain-errors"
	"pims/pkg/transport"
	"pims/pkg/wire/metrics"
)

// Server-side page limits. Hard constraints, not tunables.
const (
	pseudonymizeChunkSize = 1000
	reidentifyChunkSize   = 500
)

// Client wraps an authenticated transport session with the bulk protocol
// semantics. Entry points mirror the server's resource groups: KeyFiles,
// Identities, Pseudonyms, Users.
type Client struct {
	session     *transport.Session
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
	padding     bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger injects a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics enables Prometheus instrumentation of bulk operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithConcurrency allows up to n chunk requests in flight at once. Chunks of
// a bulk operation are independent, so this only changes throughput; results
// are still concatenated in submission order. Default is sequential.
func WithConcurrency(n int) Option {
	return func(c *Client) { c.concurrency = n }
}

// WithoutPaddingWorkaround disables the sentinel value appended to every
// outgoing chunk. The sentinel works around a server-side miscount on exact
// page boundaries; turn it off only against servers carrying the fix.
func WithoutPaddingWorkaround() Option {
	return func(c *Client) { c.padding = false }
}

// NewClient builds a protocol client over the given session.
func NewClient(session *transport.Session, opts ...Option) (*Client, error) {
	if session == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "session is required")
	}
	c := &Client{
		session:     session,
		logger:      slog.Default(),
		concurrency: 1,
		padding:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) KeyFiles() KeyFiles     { return KeyFiles{c} }
func (c *Client) Identities() Identities { return Identities{c} }
func (c *Client) Pseudonyms() Pseudonyms { return Pseudonyms{c} }
func (c *Client) Users() Users           { return Users{c} }

// recordOperation feeds the optional metrics sink.
func (c *Client) recordOperation(operation string, items int, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordOperation(operation, items, err != nil)
}

func (c *Client) recordChunk(operation string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordChunk(operation)
}

// forEach runs fn for every index in [0, n). With concurrency above one the
// calls run in parallel under an errgroup; fn must write results only to its
// own index so ordering is preserved regardless.
func (c *Client) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if c.concurrency <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(gctx, i) })
	}
	return g.Wait()
}

// opError wraps an adapter failure with the logical operation name, keeping
// the original classification code on the outside of the chain.
func opError(err error, operation string) error {
	if err == nil {
		return nil
	}
	return dErrors.Wrap(err, dErrors.CodeOf(err), operation)
}
