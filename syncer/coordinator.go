// Package syncer schedules synchronization with peers whose versions are missing
// locally. At most one synchronization per peer is outstanding at any time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spacemeshos/go-regionsync/common/types"
	"github.com/spacemeshos/go-regionsync/log"
	"github.com/spacemeshos/go-regionsync/versions"
)

var (
	errRequestTimeout = errors.New("synchronization request timed out")
	errGapNotFilled   = errors.New("synchronization completed with versions still missing")
)

// State is the synchronization state of a single peer.
type State int32

const (
	// Idle means that no synchronization is outstanding.
	Idle State = iota
	// Scheduled means that a synchronization is waiting for a dispatch slot or backoff.
	Scheduled
	// InFlight means that a synchronization request was issued and its result is pending.
	InFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case InFlight:
		return "in-flight"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// DefaultConfig returns the default Coordinator configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		BaseBackoff:       500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		RequestTimeout:    time.Minute,
		SweepInterval:     10 * time.Second,
		RequestsPerSecond: 20,
		Burst:             10,
	}
}

// Config is the configuration of a Coordinator.
type Config struct {
	// MaxAttempts is the number of synchronization requests issued for a gap
	// before it is reported as unrecoverable.
	MaxAttempts int `mapstructure:"max-attempts"`

	// BaseBackoff is the delay before the first retry. It doubles with every failed attempt
	// up to MaxBackoff.
	BaseBackoff time.Duration `mapstructure:"base-backoff"`
	MaxBackoff  time.Duration `mapstructure:"max-backoff"`

	// RequestTimeout bounds a single synchronization request.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// SweepInterval is the interval between scans for peers with gaps that have no
	// synchronization outstanding.
	SweepInterval time.Duration `mapstructure:"sweep-interval"`

	// RequestsPerSecond limits the rate of synchronization requests across all peers.
	// Zero disables the limit.
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
	Burst             int     `mapstructure:"burst"`
}

// Opt is an option for a Coordinator.
type Opt func(*Coordinator)

// WithLogger sets the logger of the Coordinator.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Opt {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// WithClock sets the clock used for backoff, timeouts and the sweep.
func WithClock(clock clockwork.Clock) Opt {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// task is the obligation to synchronize with a peer, owned by the goroutine that won
// the holder's guard in the given epoch.
type task struct {
	peer   types.PeerID
	holder *versions.Holder
	epoch  uint64
	cancel context.CancelFunc
	state  atomic.Int32
}

func (t *task) setState(s State) {
	t.state.Store(int32(s))
}

// Coordinator issues synchronization requests for peers with missing versions.
type Coordinator struct {
	logger       *zap.Logger
	cfg          Config
	clock        clockwork.Clock
	vector       *versions.Vector
	synchronizer Synchronizer
	region       Region
	limiter      *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	eg     errgroup.Group

	mu     sync.Mutex
	closed bool
	tasks  map[types.PeerID]*task
}

// New creates a Coordinator for the peers tracked by vector.
func New(vector *versions.Vector, synchronizer Synchronizer, region Region, opts ...Opt) *Coordinator {
	c := &Coordinator{
		logger:       zap.NewNop(),
		cfg:          DefaultConfig(),
		clock:        clockwork.NewRealClock(),
		vector:       vector,
		synchronizer: synchronizer,
		region:       region,
		tasks:        make(map[types.PeerID]*task),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxAttempts < 1 {
		c.cfg.MaxAttempts = 1
	}
	if c.cfg.SweepInterval <= 0 {
		c.cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	limit := rate.Inf
	if c.cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(c.cfg.RequestsPerSecond)
	}
	c.limiter = rate.NewLimiter(limit, max(c.cfg.Burst, 1))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Vector returns the version vector the coordinator schedules synchronization for.
func (c *Coordinator) Vector() *versions.Vector {
	return c.vector
}

// Observe records version v received from the peer and makes sure that a
// synchronization is scheduled if the peer has missing versions.
func (c *Coordinator) Observe(ctx context.Context, peer types.PeerID, v uint64) error {
	obs, err := c.vector.Observe(peer, v)
	if err != nil {
		return err
	}
	if obs.NeedsSync {
		c.ensureScheduled(ctx, peer)
	}
	return nil
}

// MergeWith folds the vector of a reconnected replica into the local one and
// schedules synchronization for every peer that still has missing versions.
// An invalid remote snapshot is rejected without changing the local vector.
func (c *Coordinator) MergeWith(ctx context.Context, remote versions.Snapshot) error {
	if err := c.vector.Merge(remote); err != nil {
		return err
	}
	for peer := range c.vector.PeersWithGaps() {
		c.ensureScheduled(ctx, peer)
	}
	return nil
}

// PeerDeparted cancels the outstanding synchronization with a peer that was
// permanently removed from the region and discards its versions.
// A late result of the cancelled synchronization is ignored.
func (c *Coordinator) PeerDeparted(peer types.PeerID) {
	tracked := c.vector.Remove(peer)
	c.mu.Lock()
	t, exists := c.tasks[peer]
	if exists {
		delete(c.tasks, peer)
		t.cancel()
	}
	c.mu.Unlock()
	c.logger.Info("peer departed",
		zap.Stringer("peer", peer),
		zap.Bool("tracked", tracked),
		zap.Bool("sync_cancelled", exists),
	)
}

// State returns the synchronization state of the peer.
func (c *Coordinator) State(peer types.PeerID) State {
	c.mu.Lock()
	t, exists := c.tasks[peer]
	c.mu.Unlock()
	if !exists {
		return Idle
	}
	return State(t.state.Load())
}

// Run periodically schedules synchronization for peers with gaps that have none
// outstanding. When ctx is done all outstanding synchronizations are cancelled and
// Run returns after they have finished.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return c.Close()
		case <-c.ctx.Done():
			return c.Close()
		case <-ticker.Chan():
			c.sweep(ctx)
		}
	}
}

// Close cancels all outstanding synchronizations and waits for them to finish.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return c.eg.Wait()
}

func (c *Coordinator) sweep(ctx context.Context) {
	var gaps, scheduled int
	for peer := range c.vector.PeersWithGaps() {
		gaps++
		if c.ensureScheduled(ctx, peer) {
			scheduled++
		}
	}
	if gaps > 0 {
		c.logger.Debug("swept peers with gaps",
			log.ZContext(ctx),
			zap.Int("peers", gaps),
			zap.Int("scheduled", scheduled),
		)
	}
}

// ensureScheduled starts a synchronization with the peer unless one is already
// outstanding. It returns true if a synchronization was started.
func (c *Coordinator) ensureScheduled(ctx context.Context, peer types.PeerID) bool {
	h, exists := c.vector.Holder(peer)
	if !exists {
		return false
	}
	epoch, ok := h.TrySchedule()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, exists := c.vector.Holder(peer); c.closed || !exists || current != h {
		// shutting down, or the peer departed after the guard was taken
		h.ResetIfEpoch(epoch)
		return false
	}
	tctx, cancel := context.WithCancel(c.ctx)
	if id, ok := log.ExtractRequestID(ctx); ok {
		tctx = log.WithRequestID(tctx, id, zap.Stringer("peer", peer))
	} else {
		tctx = log.WithNewRequestID(tctx, zap.Stringer("peer", peer))
	}
	t := &task{peer: peer, holder: h, epoch: epoch, cancel: cancel}
	t.setState(Scheduled)
	c.tasks[peer] = t
	c.eg.Go(func() error {
		defer cancel()
		c.synchronize(tctx, t)
		return nil
	})
	c.logger.Debug("synchronization scheduled",
		log.ZContext(tctx),
		zap.Uint64("epoch", epoch),
	)
	return true
}

func (c *Coordinator) synchronize(ctx context.Context, t *task) {
	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			t.setState(Scheduled)
			if err := c.wait(ctx, c.backoff(attempt-1)); err != nil {
				c.cancelled(ctx, t)
				return
			}
		}
		if err := c.reserve(ctx); err != nil {
			c.cancelled(ctx, t)
			return
		}
		missing := t.holder.Exceptions()
		if len(missing) == 0 {
			requestSkipped.Inc()
			c.completed(ctx, t)
			return
		}
		t.setState(InFlight)
		err = c.request(ctx, t.peer, missing)
		if err == nil {
			// a success that left the requested versions missing is a failed attempt,
			// new gaps opened meanwhile are rescheduled on completion
			if left := versions.Intersect(missing, t.holder.Exceptions()); len(left) != 0 {
				err = fmt.Errorf("%w: %s", errGapNotFilled, types.Intervals(left))
			}
		}
		switch {
		case err == nil:
			requestSuccess.Inc()
			c.logger.Debug("synchronization completed",
				log.ZContext(ctx),
				zap.Int("attempt", attempt),
				zap.Array("missing", missing),
			)
			c.completed(ctx, t)
			return
		case ctx.Err() != nil:
			requestCancelled.Inc()
			c.cancelled(ctx, t)
			return
		case errors.Is(err, errRequestTimeout):
			requestTimeout.Inc()
		case errors.Is(err, errGapNotFilled):
			requestIncomplete.Inc()
		default:
			requestFail.Inc()
		}
		c.logger.Warn("synchronization attempt failed",
			log.ZContext(ctx),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Array("missing", missing),
			zap.Error(err),
		)
	}
	c.exhausted(ctx, t, err)
}

func (c *Coordinator) request(ctx context.Context, peer types.PeerID, missing types.Intervals) error {
	inFlight.Inc()
	defer inFlight.Dec()
	start := c.clock.Now()
	defer func() { requestLatency.Observe(c.clock.Since(start).Seconds()) }()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	resc := c.synchronizer.RequestSynchronization(rctx, peer, missing)
	if resc == nil {
		return nil
	}
	timer := c.clock.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case err := <-resc:
		return err
	case <-timer.Chan():
		return errRequestTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) reserve(ctx context.Context) error {
	r := c.limiter.ReserveN(c.clock.Now(), 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter burst %d is too low", c.limiter.Burst())
	}
	if err := c.wait(ctx, r.DelayFrom(c.clock.Now())); err != nil {
		r.CancelAt(c.clock.Now())
		return err
	}
	return nil
}

func (c *Coordinator) backoff(failures int) time.Duration {
	d := c.cfg.BaseBackoff
	for i := 1; i < failures && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.cfg.MaxBackoff)
}

func (c *Coordinator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// release removes the task from the outstanding set. It returns false if the task
// was already removed by a departure.
func (c *Coordinator) release(t *task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tasks[t.peer] != t {
		return false
	}
	delete(c.tasks, t.peer)
	return true
}

func (c *Coordinator) completed(ctx context.Context, t *task) {
	c.release(t)
	if !t.holder.ResetIfEpoch(t.epoch) {
		c.logger.Debug("dropping stale synchronization result", log.ZContext(ctx))
		return
	}
	if t.holder.HasGap() {
		// versions went missing while the request was in flight
		c.ensureScheduled(ctx, t.peer)
	}
}

func (c *Coordinator) cancelled(ctx context.Context, t *task) {
	departed := !c.release(t)
	t.holder.ResetIfEpoch(t.epoch)
	c.logger.Debug("synchronization cancelled",
		log.ZContext(ctx),
		zap.Bool("departed", departed),
	)
}

func (c *Coordinator) exhausted(ctx context.Context, t *task, err error) {
	c.release(t)
	if !t.holder.ResetIfEpoch(t.epoch) {
		c.logger.Debug("dropping stale synchronization result", log.ZContext(ctx))
		return
	}
	missing := t.holder.Exceptions()
	if len(missing) == 0 {
		return
	}
	unrecoverable.Inc()
	c.logger.Error("gap is unrecoverable",
		log.ZContext(ctx),
		zap.Int("attempts", c.cfg.MaxAttempts),
		zap.Array("missing", missing),
		zap.Error(err),
	)
	c.region.ReportUnrecoverableGap(t.peer, missing)
}
