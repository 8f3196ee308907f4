package syncer

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/spacemeshos/go-regionsync/common/types"
	"github.com/spacemeshos/go-regionsync/log/logtest"
	"github.com/spacemeshos/go-regionsync/syncer/mocks"
	"github.com/spacemeshos/go-regionsync/versions"
)

var errUnreachable = errors.New("peer unreachable")

type tester struct {
	*Coordinator
	clock  clockwork.FakeClock
	sync   *mocks.MockSynchronizer
	region *mocks.MockRegion
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.BaseBackoff = time.Second
	cfg.MaxBackoff = 4 * time.Second
	cfg.RequestTimeout = 10 * time.Second
	cfg.SweepInterval = 5 * time.Second
	cfg.RequestsPerSecond = 0
	return cfg
}

func newTester(tb testing.TB, cfg Config) *tester {
	ctrl := gomock.NewController(tb)
	clock := clockwork.NewFakeClock()
	sync := mocks.NewMockSynchronizer(ctrl)
	region := mocks.NewMockRegion(ctrl)
	vector := versions.NewVector(versions.WithLogger(logtest.New(tb)))
	c := New(vector, sync, region, WithConfig(cfg), WithClock(clock), WithLogger(logtest.New(tb)))
	tb.Cleanup(func() { require.NoError(tb, c.Close()) })
	return &tester{Coordinator: c, clock: clock, sync: sync, region: region}
}

func result(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// deliver observes the versions through the vector, as the regular update path
// does while a synchronization is in flight.
func (tr *tester) deliver(tb testing.TB, peer types.PeerID, vers ...uint64) {
	tb.Helper()
	for _, v := range vers {
		require.NoError(tb, tr.Observe(context.Background(), peer, v))
	}
}

func (tr *tester) scheduled(peer types.PeerID) bool {
	h, exists := tr.Vector().Holder(peer)
	return exists && h.IsSynchronizeScheduled()
}

// advanceUntil moves the fake clock forward in steps until cond holds.
func (tr *tester) advanceUntil(tb testing.TB, step time.Duration, cond func() bool) {
	tb.Helper()
	require.Eventually(tb, func() bool {
		tr.clock.Advance(step)
		return cond()
	}, 5*time.Second, time.Millisecond)
}

func TestCoordinatorObserveInOrder(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	tr.deliver(t, peer, 1, 2, 3)
	require.Equal(t, Idle, tr.State(peer))
	require.False(t, tr.scheduled(peer))
}

func TestCoordinatorObserveInvalid(t *testing.T) {
	tr := newTester(t, testConfig())
	require.ErrorIs(t, tr.Observe(context.Background(), types.EmptyPeerID, 1), types.ErrInvalidPeer)
	require.ErrorIs(t, tr.Observe(context.Background(), types.NewPeerID(), 0), types.ErrInvalidVersion)
}

func TestCoordinatorSingleRequestPerPeer(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	pending := make(chan error)
	requested := make(chan struct{}, 10)
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, []types.Interval{{Lo: 2, Hi: 5}}).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			requested <- struct{}{}
			return pending
		})

	tr.deliver(t, peer, 1, 5)
	<-requested
	require.Equal(t, InFlight, tr.State(peer))

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, tr.Observe(context.Background(), peer, uint64(10+2*i)))
		}()
	}
	wg.Wait()
	require.Equal(t, InFlight, tr.State(peer))

	for v := uint64(2); v <= 10+2*workers; v++ {
		tr.deliver(t, peer, v)
	}
	pending <- nil
	require.Eventually(t, func() bool {
		return tr.State(peer) == Idle && !tr.scheduled(peer)
	}, time.Second, time.Millisecond)
	require.Empty(t, requested)
}

func TestCoordinatorIndependentPeers(t *testing.T) {
	tr := newTester(t, testConfig())
	peers := []types.PeerID{types.NewPeerID(), types.NewPeerID(), types.NewPeerID()}
	var mu sync.Mutex
	requested := map[types.PeerID]int{}
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), gomock.Any(), []types.Interval{{Lo: 1, Hi: 3}}).
		DoAndReturn(func(_ context.Context, peer types.PeerID, _ []types.Interval) <-chan error {
			mu.Lock()
			requested[peer]++
			mu.Unlock()
			return make(chan error)
		}).
		Times(len(peers))

	for _, peer := range peers {
		tr.deliver(t, peer, 3)
	}
	require.Eventually(t, func() bool {
		for _, peer := range peers {
			if tr.State(peer) != InFlight {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for _, peer := range peers {
		require.Equal(t, 1, requested[peer])
	}
}

func TestCoordinatorRetry(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	missing := []types.Interval{{Lo: 1, Hi: 3}}
	failed := tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, missing).
		Return(result(errUnreachable)).
		Times(2)
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, missing).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			tr.deliver(t, peer, 1, 2)
			return result(nil)
		}).
		After(failed)

	tr.deliver(t, peer, 3)
	require.Eventually(t, func() bool {
		return tr.State(peer) == Scheduled
	}, time.Second, time.Millisecond)
	require.True(t, tr.scheduled(peer))

	h, _ := tr.Vector().Holder(peer)
	tr.advanceUntil(t, time.Second, func() bool {
		return !h.HasGap() && !tr.scheduled(peer)
	})
	require.Equal(t, Idle, tr.State(peer))
}

func TestCoordinatorExhausted(t *testing.T) {
	cfg := testConfig()
	tr := newTester(t, cfg)
	peer := types.NewPeerID()
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, gomock.Any()).
		Return(result(errUnreachable)).
		Times(cfg.MaxAttempts)
	reported := make(chan []types.Interval, 1)
	tr.region.EXPECT().
		ReportUnrecoverableGap(peer, gomock.Any()).
		Do(func(_ types.PeerID, missing []types.Interval) { reported <- missing })

	tr.deliver(t, peer, 1, 4)
	var missing []types.Interval
	tr.advanceUntil(t, cfg.MaxBackoff, func() bool {
		select {
		case missing = <-reported:
			return true
		default:
			return false
		}
	})
	require.Equal(t, []types.Interval{{Lo: 2, Hi: 4}}, missing)
	require.Equal(t, Idle, tr.State(peer))
	require.False(t, tr.scheduled(peer))
}

func TestCoordinatorRequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	tr := newTester(t, cfg)
	peer := types.NewPeerID()
	var reqCtx context.Context
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ types.PeerID, _ []types.Interval) <-chan error {
			reqCtx = ctx
			return make(chan error)
		})
	reported := make(chan struct{})
	tr.region.EXPECT().
		ReportUnrecoverableGap(peer, []types.Interval{{Lo: 1, Hi: 2}}).
		Do(func(types.PeerID, []types.Interval) { close(reported) })

	tr.deliver(t, peer, 2)
	tr.advanceUntil(t, cfg.RequestTimeout, func() bool {
		select {
		case <-reported:
			return true
		default:
			return false
		}
	})
	// the abandoned request is cancelled
	require.Error(t, reqCtx.Err())
}

func TestCoordinatorRescheduleAfterSuccess(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	first := tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, []types.Interval{{Lo: 2, Hi: 4}}).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			tr.deliver(t, peer, 2, 3, 10)
			return result(nil)
		})
	done := make(chan struct{})
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, []types.Interval{{Lo: 5, Hi: 10}}).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			tr.deliver(t, peer, 5, 6, 7, 8, 9)
			close(done)
			return result(nil)
		}).
		After(first.Call)

	tr.deliver(t, peer, 1, 4)
	<-done
	require.Eventually(t, func() bool {
		return tr.State(peer) == Idle && !tr.scheduled(peer)
	}, time.Second, time.Millisecond)
}

func TestCoordinatorGapClosedBeforeDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerSecond = 1
	cfg.Burst = 1
	tr := newTester(t, cfg)
	first, second := types.NewPeerID(), types.NewPeerID()
	requested := make(chan types.PeerID, 2)
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, peer types.PeerID, _ []types.Interval) <-chan error {
			requested <- peer
			tr.deliver(t, peer, 1)
			return result(nil)
		})

	tr.deliver(t, first, 2)
	require.Equal(t, first, <-requested)
	// the second request waits for the limiter
	tr.deliver(t, second, 2)
	require.Eventually(t, func() bool {
		return tr.State(second) == Scheduled
	}, time.Second, time.Millisecond)
	tr.deliver(t, second, 1)
	tr.advanceUntil(t, time.Second, func() bool {
		return !tr.scheduled(second)
	})
	require.Empty(t, requested)
}

func TestCoordinatorRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerSecond = 1
	cfg.Burst = 1
	cfg.RequestTimeout = time.Hour
	tr := newTester(t, cfg)
	peers := []types.PeerID{types.NewPeerID(), types.NewPeerID()}
	requested := make(chan types.PeerID, 2)
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, peer types.PeerID, _ []types.Interval) <-chan error {
			requested <- peer
			return make(chan error)
		}).
		Times(2)

	for _, peer := range peers {
		tr.deliver(t, peer, 2)
	}
	<-requested
	select {
	case <-requested:
		require.FailNow(t, "second request must wait for the limiter")
	case <-time.After(50 * time.Millisecond):
	}
	tr.advanceUntil(t, time.Second, func() bool {
		return len(requested) == 1
	})
}

func TestCoordinatorPeerDeparted(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	requested := make(chan context.Context, 1)
	pending := make(chan error, 1)
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ types.PeerID, _ []types.Interval) <-chan error {
			requested <- ctx
			return pending
		})

	tr.deliver(t, peer, 1, 4)
	reqCtx := <-requested
	tr.PeerDeparted(peer)
	<-reqCtx.Done()
	// late result is ignored
	pending <- nil

	require.Equal(t, Idle, tr.State(peer))
	_, exists := tr.Vector().Holder(peer)
	require.False(t, exists)
	require.ErrorIs(t, tr.Observe(context.Background(), peer, 5), versions.ErrPeerDeparted)
	// region must not be notified
	require.NoError(t, tr.Close())
}

func TestCoordinatorPeerDepartedDuringBackoff(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	requested := make(chan struct{})
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, gomock.Any()).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			close(requested)
			return result(errUnreachable)
		})

	tr.deliver(t, peer, 4)
	<-requested
	require.Eventually(t, func() bool {
		return tr.State(peer) == Scheduled
	}, time.Second, time.Millisecond)
	tr.PeerDeparted(peer)
	require.Equal(t, Idle, tr.State(peer))
	tr.clock.Advance(time.Minute)
	require.NoError(t, tr.Close())
}

func TestCoordinatorMergeWith(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	requested := make(chan []types.Interval, 1)
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ types.PeerID, missing []types.Interval) <-chan error {
			requested <- missing
			return make(chan error)
		})

	remote := versions.NewVector()
	for _, v := range []uint64{1, 2, 6} {
		_, err := remote.Observe(peer, v)
		require.NoError(t, err)
	}
	require.NoError(t, tr.MergeWith(context.Background(), remote.Snapshot()))
	require.Equal(t, []types.Interval{{Lo: 3, Hi: 6}}, <-requested)
}

func TestCoordinatorMergeWithInvalid(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	tr.deliver(t, peer, 1)
	before := tr.Vector().Snapshot()

	remote := versions.Snapshot{Entries: []versions.Entry{{
		Peer:       peer,
		Highest:    math.MaxUint64,
		Exceptions: []types.Interval{{Lo: 10, Hi: 20}},
	}}}
	require.ErrorIs(t, tr.MergeWith(context.Background(), remote), types.ErrInvalidVersion)
	require.Equal(t, before, tr.Vector().Snapshot())
	require.Equal(t, Idle, tr.State(peer))
}

func TestCoordinatorSuccessWithoutDelivery(t *testing.T) {
	cfg := testConfig()
	tr := newTester(t, cfg)
	peer := types.NewPeerID()
	var calls atomic.Int32
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, []types.Interval{{Lo: 2, Hi: 5}}).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			calls.Add(1)
			return result(nil)
		}).
		Times(cfg.MaxAttempts)
	reported := make(chan []types.Interval, 1)
	tr.region.EXPECT().
		ReportUnrecoverableGap(peer, gomock.Any()).
		Do(func(_ types.PeerID, missing []types.Interval) { reported <- missing })

	tr.deliver(t, peer, 1, 5)
	require.Eventually(t, func() bool {
		return calls.Load() == 1 && tr.State(peer) == Scheduled
	}, time.Second, time.Millisecond)
	// the next attempt waits for the backoff
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, calls.Load())

	var missing []types.Interval
	tr.advanceUntil(t, cfg.MaxBackoff, func() bool {
		select {
		case missing = <-reported:
			return true
		default:
			return false
		}
	})
	require.Equal(t, []types.Interval{{Lo: 2, Hi: 5}}, missing)
	require.EqualValues(t, cfg.MaxAttempts, calls.Load())
	require.False(t, tr.scheduled(peer))
}

func TestCoordinatorPartialDelivery(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	first := tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, []types.Interval{{Lo: 2, Hi: 6}}).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			tr.deliver(t, peer, 2, 3)
			return result(nil)
		})
	done := make(chan struct{})
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, []types.Interval{{Lo: 4, Hi: 6}}).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			tr.deliver(t, peer, 4, 5)
			close(done)
			return result(nil)
		}).
		After(first.Call)

	tr.deliver(t, peer, 1, 6)
	require.Eventually(t, func() bool {
		return tr.State(peer) == Scheduled
	}, time.Second, time.Millisecond)
	tr.advanceUntil(t, time.Second, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
	require.Eventually(t, func() bool {
		return tr.State(peer) == Idle && !tr.scheduled(peer)
	}, time.Second, time.Millisecond)
}

func TestCoordinatorNilResult(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	done := make(chan struct{})
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, []types.Interval{{Lo: 1, Hi: 3}}).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			tr.deliver(t, peer, 1, 2)
			close(done)
			return nil
		})

	tr.deliver(t, peer, 3)
	<-done
	require.Eventually(t, func() bool {
		return tr.State(peer) == Idle && !tr.scheduled(peer)
	}, time.Second, time.Millisecond)
	// no timeout and no report after the request completed
	tr.clock.Advance(time.Hour)
	require.NoError(t, tr.Close())
}

func TestCoordinatorSweep(t *testing.T) {
	cfg := testConfig()
	tr := newTester(t, cfg)
	peer := types.NewPeerID()
	_, err := tr.Vector().Observe(peer, 3)
	require.NoError(t, err)
	require.Equal(t, Idle, tr.State(peer))

	requested := make(chan struct{})
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, []types.Interval{{Lo: 1, Hi: 3}}).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			tr.deliver(t, peer, 1, 2)
			close(requested)
			return result(nil)
		})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tr.Run(ctx) }()
	tr.advanceUntil(t, cfg.SweepInterval, func() bool {
		select {
		case <-requested:
			return true
		default:
			return false
		}
	})
	cancel()
	require.NoError(t, <-errc)
}

func TestCoordinatorClose(t *testing.T) {
	tr := newTester(t, testConfig())
	peer := types.NewPeerID()
	requested := make(chan struct{})
	tr.sync.EXPECT().
		RequestSynchronization(gomock.Any(), peer, gomock.Any()).
		DoAndReturn(func(context.Context, types.PeerID, []types.Interval) <-chan error {
			close(requested)
			return make(chan error)
		})

	tr.deliver(t, peer, 5)
	<-requested
	require.NoError(t, tr.Close())
	require.False(t, tr.scheduled(peer))
	require.Equal(t, Idle, tr.State(peer))

	// nothing is scheduled after close
	tr.deliver(t, peer, 8)
	require.False(t, tr.scheduled(peer))
}

func TestBackoff(t *testing.T) {
	c := New(versions.NewVector(), nil, nil, WithConfig(testConfig()))
	for _, tc := range []struct {
		failures int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second},
		{64, 4 * time.Second},
	} {
		require.Equal(t, tc.expected, c.backoff(tc.failures), "failures %d", tc.failures)
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "scheduled", Scheduled.String())
	require.Equal(t, "in-flight", InFlight.String())
}
