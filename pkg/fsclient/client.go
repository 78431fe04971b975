// Package fsclient wires the pool, request, transaction, watch, and
// bulkwriter layers into the single top-level Client an application
// constructs, and resolves the configuration surface from spec §6.
package fsclient

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"
	"google.golang.org/grpc"

	"github.com/cuemby/firekit/pkg/bulkwriter"
	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/fserrors"
	"github.com/cuemby/firekit/pkg/fsquery"
	"github.com/cuemby/firekit/pkg/log"
	"github.com/cuemby/firekit/pkg/metrics"
	"github.com/cuemby/firekit/pkg/pool"
	"github.com/cuemby/firekit/pkg/rpc"
	"github.com/cuemby/firekit/pkg/txn"
	"github.com/cuemby/firekit/pkg/watch"
	"github.com/cuemby/firekit/pkg/wire"
)

// defaultDatabaseID is the database Firestore provisions by default.
const defaultDatabaseID = "(default)"

// Config holds the recognized options from spec §6.
type Config struct {
	ProjectID     string
	DatabaseID    string // defaults to "(default)"
	Host          string // overrides the default production endpoint
	SSL           *bool  // nil means "true unless emulator"
	TokenProvider wire.TokenProvider
	MaxIdleChannels int
	CustomHeaders   map[string]string
	FirebaseVersion string
	UseBigInt       bool
	MaxTxnAttempts  int
	DialOptions     []grpc.DialOption
}

// CheckAndSetDefaults validates required fields and fills in defaults,
// following the same shape as the higher-level Google client constructors:
// validate first, default second, fail loudly with the offending field.
func (c *Config) CheckAndSetDefaults() error {
	if c.ProjectID == "" {
		return fserrors.NewCallerError("projectId", "must not be empty")
	}
	if c.DatabaseID == "" {
		c.DatabaseID = defaultDatabaseID
	}
	if c.Host == "" {
		c.Host = wire.DefaultEndpoint
	}
	if c.MaxIdleChannels == 0 {
		c.MaxIdleChannels = pool.DefaultMaxIdle
	}
	if c.MaxTxnAttempts <= 0 {
		c.MaxTxnAttempts = txn.DefaultMaxAttempts
	}
	return nil
}

// DatabasePath returns the "projects/{p}/databases/{d}" resource name.
func (c *Config) DatabasePath() string {
	return fmt.Sprintf("projects/%s/databases/%s", c.ProjectID, c.DatabaseID)
}

// Client is the application-facing Firestore client: document/query reads
// and writes, transactions, and live Watch subscriptions, all mediated by
// the pool-leased, retrying request layer.
type Client struct {
	cfg          Config
	databasePath string
	pool         *pool.Pool[firestorepb.FirestoreClient]
	dispatcher   *rpc.Dispatcher
	engine       *txn.Engine
	wrapReads    bool // FUNCTION_TRIGGER_TYPE set: see GetDocument below

	activeListeners int64
}

// NewClient builds a Client from cfg, resolving emulator and Cloud
// Functions environment overrides per spec §6/§9.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, err
	}

	dialOpts := wire.DialOptions{
		Endpoint:     cfg.Host,
		DatabasePath: cfg.DatabasePath(),
		DialOptions:  cfg.DialOptions,
	}
	if cfg.SSL != nil {
		dialOpts.Emulator = !*cfg.SSL
	}
	dialOpts.ResolveEmulator() // FIRESTORE_EMULATOR_HOST overrides the above
	if !dialOpts.Emulator {
		dialOpts.TokenProvider = cfg.TokenProvider
	}

	factory := func(ctx context.Context) (firestorepb.FirestoreClient, error) {
		conn, err := wire.Dial(ctx, dialOpts)
		if err != nil {
			return nil, err
		}
		return firestorepb.NewFirestoreClient(conn), nil
	}
	// grpc.ClientConn isn't reachable from the FirestoreClient interface, so
	// the pool's destroyer is a no-op; channel lifetime is instead bounded
	// by process exit, matching how a single shared production channel is
	// normally kept open for the process's lifetime. Terminate() below still
	// drains in-flight leases so callers observe a clean shutdown contract.
	destroy := func(firestorepb.FirestoreClient) error { return nil }

	p := pool.New(pool.DefaultCapacity, cfg.MaxIdleChannels, factory, destroy)
	dispatcher := rpc.NewDispatcher(p, cfg.DatabasePath(), cfg.CustomHeaders)

	wrapReads := wire.IsCloudFunction()
	if wrapReads {
		log.WithComponent("fsclient").Info().Msg("FUNCTION_TRIGGER_TYPE set: wrapping reads in read-only transactions")
	}

	metrics.RegisterComponent("pool", true, "connected")

	return &Client{
		cfg:          cfg,
		databasePath: cfg.DatabasePath(),
		pool:         p,
		dispatcher:   dispatcher,
		engine:       txn.NewEngine(dispatcher, cfg.DatabasePath(), cfg.MaxTxnAttempts),
		wrapReads:    wrapReads,
	}, nil
}

// Terminate refuses if active listeners exist and otherwise drains
// in-flight operations and destroys all pooled clients (spec §4.1/§5).
func (c *Client) Terminate(ctx context.Context) error {
	if atomic.LoadInt64(&c.activeListeners) > 0 {
		return fserrors.NewCallerError("client", "cannot terminate: active Watch listeners have not been unsubscribed")
	}
	metrics.RegisterComponent("pool", false, "terminated")
	return c.pool.Terminate(ctx)
}

// GetDocument reads a single document. When the process is running inside
// Cloud Functions (FUNCTION_TRIGGER_TYPE set), the read is wrapped in an
// implicit read-only transaction per spec §9: GCF's two-minute idle
// connection teardown is far more likely to hit a bare unary call sitting
// on a cold channel than one opened fresh as part of a transaction's first
// read.
func (c *Client) GetDocument(ctx context.Context, ref fsdoc.Ref) (fsdoc.Snapshot, error) {
	if c.wrapReads {
		var snap fsdoc.Snapshot
		err := c.engine.RunReadOnly(ctx, nil, func(ctx context.Context, t *txn.Transaction) error {
			var err error
			snap, err = t.Get(ctx, ref)
			return err
		})
		return snap, err
	}

	name := wire.FullDocumentName(c.databasePath, ref.Path)
	resp, err := rpc.Unary(ctx, c.dispatcher, "GetDocument", true, func(ctx context.Context, client firestorepb.FirestoreClient) (*firestorepb.Document, error) {
		return client.GetDocument(ctx, &firestorepb.GetDocumentRequest{Name: name})
	})
	if err != nil {
		if fserrors.Code(err).String() == "NotFound" {
			return fsdoc.Snapshot{Ref: ref, ReadTime: time.Now()}, nil
		}
		return fsdoc.Snapshot{}, err
	}
	return wire.FromProtoDocument(c.databasePath, resp, time.Now()), nil
}

// RunReadOnlyTransaction executes fn against a single consistent snapshot,
// optionally pinned at readTime (spec §4.3).
func (c *Client) RunReadOnlyTransaction(ctx context.Context, readTime *time.Time, fn func(ctx context.Context, t *txn.Transaction) error) error {
	return c.engine.RunReadOnly(ctx, readTime, fn)
}

// RunTransaction executes fn with retry on classified failure (spec §4.3).
func (c *Client) RunTransaction(ctx context.Context, fn func(ctx context.Context, t *txn.Transaction) error) error {
	_, err := c.engine.RunReadWrite(ctx, fn)
	return err
}

// Watch begins a live subscription to query, invoking onSnapshot for every
// emitted QuerySnapshot and onError once if the subscription ends on a fatal
// or non-retryable error (not after Unsubscribe or context cancellation). The
// returned Listener's Unsubscribe stops it and, per spec §5, must be called
// before Terminate will succeed.
func (c *Client) Watch(ctx context.Context, query fsquery.Query, onSnapshot func(watch.QuerySnapshot), onError func(error)) *Listener {
	atomic.AddInt64(&c.activeListeners, 1)
	w := watch.New(c.dispatcher, c.databasePath, query, onSnapshot, onError)
	w.Start(ctx)
	return &Listener{client: c, w: w}
}

// Listener wraps a watch.Watcher so the owning Client can track whether any
// subscription is still active; Terminate refuses while one is (spec §5).
type Listener struct {
	client *Client
	w      *watch.Watcher

	done int32
}

// Unsubscribe stops the underlying Watcher and releases this listener's
// hold on Client.Terminate. Safe to call more than once.
func (l *Listener) Unsubscribe() {
	if atomic.CompareAndSwapInt32(&l.done, 0, 1) {
		atomic.AddInt64(&l.client.activeListeners, -1)
	}
	l.w.Unsubscribe()
}

// NewBulkWriter builds a throttled, batched write path sharing this
// client's dispatcher.
func (c *Client) NewBulkWriter() *bulkwriter.BulkWriter {
	return bulkwriter.New(c.dispatcher, c.databasePath, time.Now())
}
