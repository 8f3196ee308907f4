package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/go-regionsync/common/types"
	"github.com/spacemeshos/go-regionsync/log"
	"github.com/spacemeshos/go-regionsync/syncer"
	"github.com/spacemeshos/go-regionsync/versions"
)

// peerNamespace derives stable peer identities from trace names.
var peerNamespace = uuid.MustParse("5e5f3d0c-2a43-4c2a-9d0f-6f7e3b1c8a52")

// ErrNotSettled is returned when outstanding synchronizations don't finish in time.
var ErrNotSettled = errors.New("synchronization did not settle")

type Opt func(*runner)

func WithLogger(logger *zap.Logger) Opt {
	return func(r *runner) {
		r.logger = logger
	}
}

// WithVersionsLogger sets the logger of the version vector.
func WithVersionsLogger(logger *zap.Logger) Opt {
	return func(r *runner) {
		r.versionsLogger = logger
	}
}

// WithSyncLogger sets the logger of the synchronization coordinator.
func WithSyncLogger(logger *zap.Logger) Opt {
	return func(r *runner) {
		r.syncLogger = logger
	}
}

func WithVersionsConfig(cfg versions.Config) Opt {
	return func(r *runner) {
		r.versionsCfg = cfg
	}
}

func WithSyncConfig(cfg syncer.Config) Opt {
	return func(r *runner) {
		r.syncCfg = cfg
	}
}

// WithSettleTimeout bounds the wait for outstanding synchronizations.
func WithSettleTimeout(timeout time.Duration) Opt {
	return func(r *runner) {
		r.settleTimeout = timeout
	}
}

type step interface {
	run(context.Context, *runner) error
}

type runner struct {
	logger         *zap.Logger
	versionsLogger *zap.Logger
	syncLogger     *zap.Logger
	versionsCfg    versions.Config
	syncCfg        syncer.Config
	settleTimeout  time.Duration

	mu    sync.Mutex
	names map[types.PeerID]string

	coord    *syncer.Coordinator
	loopback *loopback
	region   *region
}

// Run replays the trace and returns the final state of the region.
// Outstanding synchronizations are awaited before the report is built.
func Run(ctx context.Context, trace *Trace, opts ...Opt) (*Report, error) {
	r := &runner{
		logger:        zap.NewNop(),
		versionsCfg:   versions.DefaultConfig(),
		syncCfg:       syncer.DefaultConfig(),
		settleTimeout: 10 * time.Second,
		names:         map[types.PeerID]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.versionsLogger == nil {
		r.versionsLogger = r.logger.Named("versions")
	}
	if r.syncLogger == nil {
		r.syncLogger = r.logger.Named("sync")
	}

	vector := versions.NewVector(
		versions.WithLogger(r.versionsLogger),
		versions.WithConfig(r.versionsCfg),
	)
	r.region = newRegion()
	r.loopback = newLoopback(r.logger.Named("loopback"))
	r.coord = syncer.New(vector, r.loopback, r.region,
		syncer.WithLogger(r.syncLogger),
		syncer.WithConfig(r.syncCfg),
	)
	r.loopback.deliver = r.coord.Observe
	for _, name := range trace.Unreachable {
		r.loopback.setUnreachable(r.peer(name))
	}
	for name, lost := range trace.Lost {
		r.loopback.setLost(r.peer(name), lost)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var eg errgroup.Group
	eg.Go(func() error {
		return r.coord.Run(ctx)
	})
	err := r.replay(ctx, trace)
	if err == nil {
		err = r.settle(ctx)
	}
	var report *Report
	if err == nil {
		report = r.report()
	}
	cancel()
	if werr := eg.Wait(); werr != nil && err == nil {
		err = werr
	}
	return report, err
}

func (r *runner) replay(ctx context.Context, trace *Trace) error {
	for i := range trace.Events {
		st, err := trace.Events[i].step()
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if err := st.run(log.WithNewRequestID(ctx, zap.Int("event", i)), r); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// peer returns the identity of the named peer.
func (r *runner) peer(name string) types.PeerID {
	id := types.PeerIDFromUUID(uuid.NewSHA1(peerNamespace, []byte(name)))
	r.mu.Lock()
	r.names[id] = name
	r.mu.Unlock()
	return id
}

func (r *runner) name(id types.PeerID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, exists := r.names[id]; exists {
		return name
	}
	return id.ShortString()
}

// settled returns true if every peer either has no gaps and no synchronization
// outstanding, or its current gaps were reported as unrecoverable.
func (r *runner) settled() bool {
	vector := r.coord.Vector()
	for _, peer := range vector.Peers() {
		h, exists := vector.Holder(peer)
		if !exists {
			continue
		}
		missing := h.Exceptions()
		if len(missing) == 0 {
			if h.IsSynchronizeScheduled() || r.coord.State(peer) != syncer.Idle {
				return false
			}
			continue
		}
		reported, _ := r.region.get(peer)
		if !slices.Equal(reported, missing) {
			return false
		}
	}
	return true
}

func (r *runner) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.settleTimeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	// the state must hold on consecutive checks, a completed synchronization
	// may be rescheduled right after the guard is reset
	var stable int
	for stable < 2 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotSettled, ctx.Err())
		case <-ticker.C:
		}
		if r.settled() {
			stable++
		} else {
			stable = 0
		}
	}
	return nil
}

func (ev *ObserveEvent) run(ctx context.Context, r *runner) error {
	peer := r.peer(ev.Peer)
	for _, v := range ev.Versions {
		err := r.coord.Observe(ctx, peer, v)
		switch {
		case errors.Is(err, versions.ErrPeerDeparted):
			r.logger.Info("ignoring version from departed peer",
				log.ZContext(ctx),
				zap.String("peer", ev.Peer),
				zap.Uint64("version", v),
			)
		case err != nil:
			return fmt.Errorf("observe %s/%d: %w", ev.Peer, v, err)
		}
	}
	return nil
}

func (ev *MergeEvent) run(ctx context.Context, r *runner) error {
	var snapshot versions.Snapshot
	for _, p := range ev.Peers {
		entry := versions.Entry{Peer: r.peer(p.Peer), Highest: p.Highest}
		for _, m := range p.Missing {
			entry.Exceptions = append(entry.Exceptions, types.Interval{Lo: m[0], Hi: m[1]})
		}
		snapshot.Entries = append(snapshot.Entries, entry)
	}
	if err := r.coord.MergeWith(ctx, snapshot); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

func (ev *DepartEvent) run(_ context.Context, r *runner) error {
	r.coord.PeerDeparted(r.peer(ev.Peer))
	return nil
}

func (ev *SettleEvent) run(ctx context.Context, r *runner) error {
	return r.settle(ctx)
}
