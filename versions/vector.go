// Package versions tracks, per peer, which versions of a replicated region have been
// applied locally and which are missing.
package versions

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-regionsync/common/types"
)

// ErrPeerDeparted is returned when a version is observed from a peer that was
// permanently removed from the region.
var ErrPeerDeparted = errors.New("peer departed")

// DefaultDepartedCacheSize is the default number of removed peers remembered by a Vector.
const DefaultDepartedCacheSize = 1024

// Config is the configuration of a Vector.
type Config struct {
	// DepartedCacheSize is the number of removed peers remembered in order to reject
	// late observations from them.
	DepartedCacheSize int `mapstructure:"departed-cache-size"`
}

// DefaultConfig returns the default Vector configuration.
func DefaultConfig() Config {
	return Config{DepartedCacheSize: DefaultDepartedCacheSize}
}

// Opt is an option for a Vector.
type Opt func(*Vector)

// WithLogger specifies the logger for the Vector.
func WithLogger(logger *zap.Logger) Opt {
	return func(v *Vector) {
		v.logger = logger
	}
}

// WithConfig specifies the configuration of the Vector.
func WithConfig(cfg Config) Opt {
	return func(v *Vector) {
		v.cfg = cfg
	}
}

// Observation is the outcome of Vector.Observe.
type Observation struct {
	Result
	// NeedsSync is true if the peer still has missing versions after the observation.
	NeedsSync bool
}

// Vector maps peers to their Holders. Holders are created lazily on the first
// observed version and are never shared outside of the vector's owner.
type Vector struct {
	logger *zap.Logger
	cfg    Config

	mu       sync.RWMutex
	holders  map[types.PeerID]*Holder
	departed *lru.Cache[types.PeerID, struct{}]
}

// NewVector creates an empty Vector.
func NewVector(opts ...Opt) *Vector {
	v := &Vector{
		logger:  zap.NewNop(),
		cfg:     DefaultConfig(),
		holders: make(map[types.PeerID]*Holder),
	}
	for _, opt := range opts {
		opt(v)
	}
	departed, err := lru.New[types.PeerID, struct{}](max(v.cfg.DepartedCacheSize, 1))
	if err != nil {
		panic(fmt.Sprintf("BUG: creating departed peers cache: %v", err))
	}
	v.departed = departed
	return v
}

// Observe records version ver from the peer, creating the peer's holder if needed.
func (v *Vector) Observe(peer types.PeerID, ver uint64) (Observation, error) {
	if peer.Empty() {
		return Observation{}, types.ErrInvalidPeer
	}
	h, err := v.holder(peer)
	if err != nil {
		return Observation{}, err
	}
	res, err := h.RecordVersion(ver)
	if err != nil {
		return Observation{}, fmt.Errorf("peer %s: %w", peer.ShortString(), err)
	}
	observedVersions.WithLabelValues(outcome(res)).Inc()
	if res.GapOpened {
		v.logger.Debug("gap opened",
			zap.Stringer("peer", peer),
			zap.Uint64("version", ver))
	} else if res.GapClosed {
		v.logger.Debug("gap closed",
			zap.Stringer("peer", peer),
			zap.Uint64("version", ver))
	}
	return Observation{Result: res, NeedsSync: h.HasGap()}, nil
}

func outcome(res Result) string {
	switch {
	case res.Duplicate:
		return "duplicate"
	case res.GapOpened:
		return "gap_opened"
	case res.GapClosed:
		return "gap_closed"
	default:
		return "applied"
	}
}

func (v *Vector) holder(peer types.PeerID) (*Holder, error) {
	v.mu.RLock()
	h, exists := v.holders[peer]
	v.mu.RUnlock()
	if exists {
		return h, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if h, exists = v.holders[peer]; exists {
		return h, nil
	}
	if v.departed.Contains(peer) {
		return nil, fmt.Errorf("%w: %s", ErrPeerDeparted, peer.ShortString())
	}
	h = NewHolder(peer)
	v.holders[peer] = h
	trackedPeers.Inc()
	return h, nil
}

// Holder returns the holder for the peer, if any.
func (v *Vector) Holder(peer types.PeerID) (*Holder, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	h, exists := v.holders[peer]
	return h, exists
}

// Len returns the number of tracked peers.
func (v *Vector) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.holders)
}

// Peers returns the tracked peers sorted by identity.
func (v *Vector) Peers() []types.PeerID {
	v.mu.RLock()
	peers := slices.Collect(maps.Keys(v.holders))
	v.mu.RUnlock()
	slices.SortFunc(peers, types.PeerID.Compare)
	return peers
}

// Remove discards the holder of a peer that was permanently removed from the region.
// The holder's guard is reset so that obligations taken in its epoch become stale.
// Later observations from the peer fail with ErrPeerDeparted.
func (v *Vector) Remove(peer types.PeerID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.departed.Add(peer, struct{}{})
	h, exists := v.holders[peer]
	if !exists {
		return false
	}
	h.ResetSynchronizeScheduled()
	delete(v.holders, peer)
	trackedPeers.Dec()
	return true
}

// PeersWithGaps enumerates the peers that currently have missing versions.
// The enumeration is lazy: each holder is checked when it is reached. The returned
// sequence may be iterated multiple times, each time against the current state.
func (v *Vector) PeersWithGaps() iter.Seq[types.PeerID] {
	return func(yield func(types.PeerID) bool) {
		for _, peer := range v.Peers() {
			h, exists := v.Holder(peer)
			if !exists || !h.HasGap() {
				continue
			}
			if !yield(peer) {
				return
			}
		}
	}
}

// Snapshot returns a copy of the vector's state.
func (v *Vector) Snapshot() Snapshot {
	peers := v.Peers()
	entries := make([]Entry, 0, len(peers))
	for _, peer := range peers {
		h, exists := v.Holder(peer)
		if !exists {
			continue
		}
		highest, exceptions := h.state()
		if len(exceptions) == 0 {
			exceptions = nil
		}
		entries = append(entries, Entry{Peer: peer, Highest: highest, Exceptions: exceptions})
	}
	return Snapshot{Entries: entries}
}

// Merge folds a remote snapshot into the vector. For every peer the highest version
// becomes the maximum of both sides, and only versions missing on both sides remain
// exceptions. Holders are locked one at a time in peer order.
// Departed peers in the remote snapshot are ignored. A snapshot with an entry that
// fails validation is rejected as a whole and the vector is left untouched.
func (v *Vector) Merge(remote Snapshot) error {
	if err := remote.Validate(); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	remote = remote.normalized()
	for _, e := range remote.Entries {
		h, err := v.holder(e.Peer)
		if err != nil {
			v.logger.Debug("skipping peer in merge", zap.Stringer("peer", e.Peer), zap.Error(err))
			continue
		}
		h.merge(e.Highest, e.Exceptions)
	}
	v.logger.Debug("merged remote vector", zap.Object("remote", remote))
	return nil
}

// MergeVector folds another vector into this one. The other vector is snapshotted
// first, so the locks of both vectors are never held at the same time.
func (v *Vector) MergeVector(other *Vector) error {
	if other == v {
		return nil
	}
	return v.Merge(other.Snapshot())
}

// Wants returns, per peer, the versions that the remote replica has applied and this
// vector lacks, i.e. what must be fetched from the remote replica.
func (v *Vector) Wants(remote Snapshot) map[types.PeerID][]types.Interval {
	remote = remote.normalized()
	out := make(map[types.PeerID][]types.Interval)
	for _, e := range remote.Entries {
		var (
			highest    uint64
			exceptions []types.Interval
		)
		if h, exists := v.Holder(e.Peer); exists {
			highest, exceptions = h.state()
		}
		if w := wants(highest, exceptions, e.Highest, e.Exceptions); len(w) != 0 {
			out[e.Peer] = w
		}
	}
	return out
}

// Dominates returns true if this vector has applied every version that the remote
// snapshot has applied.
func (v *Vector) Dominates(remote Snapshot) bool {
	return len(v.Wants(remote)) == 0
}
