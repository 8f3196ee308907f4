package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spacemeshos/go-regionsync/common/types"
	"github.com/spacemeshos/go-regionsync/log"
)

var (
	errUnreachable = errors.New("peer unreachable")
	errLost        = errors.New("versions lost at the source")
)

// loopback answers synchronization requests in-process by delivering the missing
// versions through the regular update path.
type loopback struct {
	logger  *zap.Logger
	deliver func(context.Context, types.PeerID, uint64) error

	mu          sync.Mutex
	unreachable map[types.PeerID]struct{}
	lost        map[types.PeerID]map[uint64]struct{}
}

func newLoopback(logger *zap.Logger) *loopback {
	return &loopback{
		logger:      logger,
		unreachable: map[types.PeerID]struct{}{},
		lost:        map[types.PeerID]map[uint64]struct{}{},
	}
}

func (l *loopback) setUnreachable(peer types.PeerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unreachable[peer] = struct{}{}
}

func (l *loopback) setLost(peer types.PeerID, vers []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lost, exists := l.lost[peer]
	if !exists {
		lost = map[uint64]struct{}{}
		l.lost[peer] = lost
	}
	for _, v := range vers {
		lost[v] = struct{}{}
	}
}

func (l *loopback) reachable(peer types.PeerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, unreachable := l.unreachable[peer]
	return !unreachable
}

func (l *loopback) isLost(peer types.PeerID, v uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, lost := l.lost[peer][v]
	return lost
}

// RequestSynchronization implements syncer.Synchronizer.
func (l *loopback) RequestSynchronization(
	ctx context.Context,
	peer types.PeerID,
	missing []types.Interval,
) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- l.serve(ctx, peer, missing)
	}()
	return result
}

func (l *loopback) serve(ctx context.Context, peer types.PeerID, missing []types.Interval) error {
	if !l.reachable(peer) {
		return fmt.Errorf("%w: %s", errUnreachable, peer.ShortString())
	}
	var delivered, lost uint64
	for _, iv := range missing {
		for v := iv.Lo; v < iv.Hi; v++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if l.isLost(peer, v) {
				lost++
				continue
			}
			if err := l.deliver(ctx, peer, v); err != nil {
				return fmt.Errorf("deliver %d: %w", v, err)
			}
			delivered++
		}
	}
	l.logger.Debug("served synchronization request",
		log.ZContext(ctx),
		zap.Stringer("peer", peer),
		zap.Uint64("delivered", delivered),
		zap.Uint64("lost", lost),
	)
	if lost > 0 {
		return fmt.Errorf("%w: %d of %d", errLost, lost, types.Intervals(missing).Count())
	}
	return nil
}
