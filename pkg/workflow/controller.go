// Package workflow coordinates the asynchronous record workflows: refreshing
// the owned-record view, submitting an encrypted value and decrypting a
// record field under a capability.
//
// Every entry point is single-flight per class, captures the active epoch
// before its first round trip and re-checks it after each one. A run whose
// epoch went stale drops its result without touching shared state and
// without reporting a failure.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/scorevault/pkg/capabilities"
	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
	"github.com/Mindburn-Labs/scorevault/pkg/guard"
	"github.com/Mindburn-Labs/scorevault/pkg/identity"
	"github.com/Mindburn-Labs/scorevault/pkg/ledger"
	"github.com/Mindburn-Labs/scorevault/pkg/observability"
	"github.com/Mindburn-Labs/scorevault/pkg/records"
)

const (
	DefaultMinValue           = 0
	DefaultMaxValue           = 100
	DefaultRefreshConcurrency = 8
)

// Deployment bundles the collaborators serving one network.
type Deployment struct {
	Ledger    ledger.Client
	Encryptor fhe.Encryptor
	Decryptor fhe.Decryptor
}

// Resolver finds the deployment for a network.
type Resolver interface {
	Resolve(network contracts.NetworkID) (Deployment, error)
}

// StaticResolver is a fixed network → deployment table.
type StaticResolver map[contracts.NetworkID]Deployment

func (s StaticResolver) Resolve(network contracts.NetworkID) (Deployment, error) {
	d, ok := s[network]
	if !ok {
		return Deployment{}, fmt.Errorf("%w: %s", ErrNotDeployed, network)
	}
	return d, nil
}

// Controller runs the workflows for one user session.
type Controller struct {
	resolver Resolver
	caps     *capabilities.Cache
	tracker  *identity.Tracker
	guard    *guard.Guard
	records  *records.Cache

	reporter    Reporter
	obs         *observability.Provider
	logger      *slog.Logger
	clock       func() time.Time
	minValue    int64
	maxValue    int64
	concurrency int
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithReporter(r Reporter) Option {
	return func(c *Controller) { c.reporter = r }
}

func WithObservability(p *observability.Provider) Option {
	return func(c *Controller) { c.obs = p }
}

// WithBounds sets the closed range accepted by Submit.
func WithBounds(min, max int64) Option {
	return func(c *Controller) {
		if min <= max {
			c.minValue, c.maxValue = min, max
		}
	}
}

// WithRefreshConcurrency bounds the per-record fetches of one refresh.
func WithRefreshConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// New builds a controller. The guard and the record cache are owned by the
// controller and live as long as it does.
func New(resolver Resolver, caps *capabilities.Cache, tracker *identity.Tracker, opts ...Option) *Controller {
	c := &Controller{
		resolver:    resolver,
		caps:        caps,
		tracker:     tracker,
		guard:       guard.New(),
		records:     records.NewCache(),
		reporter:    NewMessageLog(0),
		obs:         observability.Noop(),
		logger:      slog.Default(),
		clock:       time.Now,
		minValue:    DefaultMinValue,
		maxValue:    DefaultMaxValue,
		concurrency: DefaultRefreshConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Records returns the owned records of the active epoch, sorted by id. It
// is empty until a refresh for the active epoch committed.
func (c *Controller) Records() []contracts.Record {
	snap := c.records.Snapshot()
	if !snap.Epoch.Equal(c.tracker.Capture()) {
		return nil
	}
	return snap.List()
}

// Record returns one record of the active epoch.
func (c *Controller) Record(id contracts.RecordID) (contracts.Record, bool) {
	snap := c.records.Snapshot()
	if !snap.Epoch.Equal(c.tracker.Capture()) {
		return contracts.Record{}, false
	}
	return snap.Get(id)
}

// Flags returns the in-flight state of every workflow class.
func (c *Controller) Flags() guard.Flags {
	return c.guard.Flags()
}

// Deployed reports whether the active network has a deployment.
func (c *Controller) Deployed() bool {
	_, err := c.resolver.Resolve(c.tracker.Capture().Network)
	return err == nil
}

// CanRefresh reports whether Refresh would start a run now.
func (c *Controller) CanRefresh() bool {
	return c.ready() && !c.guard.Busy(guard.Refresh)
}

// CanSubmit reports whether Submit would start a run now.
func (c *Controller) CanSubmit() bool {
	f := c.guard.Flags()
	return c.ready() && !f.Refreshing && !f.Submitting
}

// CanDecrypt reports whether Decrypt(id, field) would start a run now.
func (c *Controller) CanDecrypt(id contracts.RecordID, field contracts.Field) bool {
	f := c.guard.Flags()
	if !c.ready() || f.Refreshing || f.Decrypting {
		return false
	}
	r, ok := c.Record(id)
	return ok && !r.Handle(field).IsZero() && !r.Decrypted(field)
}

func (c *Controller) ready() bool {
	return c.tracker.Capture().HasIdentity() && c.Deployed()
}

// RecordCount returns the total number of records on the active network's
// ledger.
func (c *Controller) RecordCount(ctx context.Context) (uint64, error) {
	dep, err := c.resolver.Resolve(c.tracker.Capture().Network)
	if err != nil {
		return 0, err
	}
	n, err := dep.Ledger.RecordCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("record count: %w", err)
	}
	return n, nil
}

// run wraps one admitted workflow with tracking and logging.
type run struct {
	c        *Controller
	name     string
	epoch    contracts.Epoch
	logger   *slog.Logger
	finished func(string, error)
}

func (c *Controller) start(ctx context.Context, name string) (context.Context, *run) {
	epoch := c.tracker.Capture()
	ctx, done := c.obs.TrackOperation(ctx, name)
	r := &run{
		c:        c,
		name:     name,
		epoch:    epoch,
		finished: done,
		logger: c.logger.With(
			"workflow", name,
			"run_id", uuid.NewString(),
			"network", epoch.Network.String(),
			"identity", epoch.Identity.Hex(),
		),
	}
	return ctx, r
}

// stale reports whether the run's epoch is no longer active.
func (r *run) stale() bool {
	return r.c.tracker.Stale(r.epoch)
}

func (r *run) info(ctx context.Context, format string, args ...any) {
	r.c.reporter.Report(ctx, Message{Time: r.c.clock(), Workflow: r.name, Level: LevelInfo, Text: fmt.Sprintf(format, args...)})
}

// finish reports res and closes the tracked operation.
func (r *run) finish(ctx context.Context, res Result) Result {
	switch res.Status {
	case StatusBusy:
	case StatusDiscarded:
		r.logger.DebugContext(ctx, "result discarded, context changed")
	case StatusFailed, StatusInvalid:
		r.logger.WarnContext(ctx, res.Message, "status", res.Status.String(), "error", res.Err)
		r.c.reporter.Report(ctx, Message{Time: r.c.clock(), Workflow: r.name, Level: LevelError, Text: res.Message})
	default:
		r.logger.InfoContext(ctx, res.Message, "status", res.Status.String())
		if res.Message != "" {
			r.info(ctx, "%s", res.Message)
		}
	}
	r.finished(res.Status.String(), res.Err)
	return res
}

func (r *run) discard() Result {
	return Result{Status: StatusDiscarded, Message: r.name + " discarded"}
}

func failed(msg string, err error) Result {
	return Result{Status: StatusFailed, Message: fmt.Sprintf("%s: %v", msg, err), Err: err}
}

func precondition(err error) Result {
	return Result{Status: StatusPrecondition, Message: strings.TrimPrefix(err.Error(), "workflow: "), Err: err}
}

// deployment resolves the collaborators for the run's epoch.
func (r *run) deployment() (Deployment, *Result) {
	if !r.epoch.HasIdentity() {
		res := precondition(ErrNoIdentity)
		return Deployment{}, &res
	}
	dep, err := r.c.resolver.Resolve(r.epoch.Network)
	if err != nil {
		res := precondition(err)
		if !errors.Is(err, ErrNotDeployed) {
			res = failed("resolve deployment", err)
		}
		return Deployment{}, &res
	}
	return dep, nil
}
