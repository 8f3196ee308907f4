package versions

import (
	"fmt"
	"slices"

	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/go-regionsync/common/types"
)

// Snapshot is an immutable copy of a Vector, exchanged between replicas.
// Entries are sorted by peer.
type Snapshot struct {
	Entries []Entry
}

// Entry is the state of a single holder in a Snapshot.
type Entry struct {
	Peer       types.PeerID
	Highest    uint64
	Exceptions []types.Interval
}

// Get returns the entry for the peer.
func (s Snapshot) Get(peer types.PeerID) (Entry, bool) {
	idx, found := slices.BinarySearchFunc(s.Entries, peer, func(e Entry, p types.PeerID) int {
		return e.Peer.Compare(p)
	})
	if !found {
		return Entry{}, false
	}
	return s.Entries[idx], true
}

// Validate checks that every entry of the snapshot holds versions that can be
// recorded by a holder.
func (s Snapshot) Validate() error {
	for _, e := range s.Entries {
		if err := e.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Entry) validate() error {
	if e.Highest > MaxVersion {
		return fmt.Errorf("%w: peer %s highest %d", types.ErrInvalidVersion, e.Peer.ShortString(), e.Highest)
	}
	for _, iv := range e.Exceptions {
		if iv.Lo > iv.Hi {
			return fmt.Errorf("%w: peer %s exception %s", types.ErrInvalidVersion, e.Peer.ShortString(), iv)
		}
	}
	return nil
}

// normalized returns a copy of the snapshot that satisfies the holder invariants:
// sorted unique peers, normalized exceptions within [1, Highest). Snapshots received
// from remote replicas are passed through it before use. Entries that fail validation
// are dropped.
func (s Snapshot) normalized() Snapshot {
	entries := make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Peer.Empty() || e.validate() != nil {
			continue
		}
		ex := Normalize(e.Exceptions)
		if e.Highest > 0 {
			// the highest version is always applied
			ex = Intersect(ex, []types.Interval{{Lo: 1, Hi: e.Highest}})
		} else {
			ex = nil
		}
		entries = append(entries, Entry{Peer: e.Peer, Highest: e.Highest, Exceptions: ex})
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return a.Peer.Compare(b.Peer)
	})
	out := entries[:0]
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].Peer == e.Peer {
			out[n-1].Highest, out[n-1].Exceptions = mergeState(
				out[n-1].Highest, out[n-1].Exceptions, e.Highest, e.Exceptions)
			continue
		}
		out = append(out, e)
	}
	return Snapshot{Entries: out}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s Snapshot) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("peers", len(s.Entries))
	var gaps int
	for _, e := range s.Entries {
		if len(e.Exceptions) != 0 {
			gaps++
		}
	}
	enc.AddInt("with_gaps", gaps)
	return nil
}

// mergeState combines two holder states for the same peer. The merged highest version
// is the maximum of both, and a version is missing only if neither side applied it.
// The operation is commutative and idempotent.
func mergeState(
	highestA uint64, exceptionsA []types.Interval,
	highestB uint64, exceptionsB []types.Interval,
) (uint64, []types.Interval) {
	highest := max(highestA, highestB)
	merged := Intersect(
		Missing(highestA, exceptionsA, highest),
		Missing(highestB, exceptionsB, highest),
	)
	if len(merged) == 0 {
		return highest, nil
	}
	return highest, merged
}

// MergeSnapshots returns the combined knowledge of two snapshots.
func MergeSnapshots(a, b Snapshot) Snapshot {
	a, b = a.normalized(), b.normalized()
	out := make([]Entry, 0, max(len(a.Entries), len(b.Entries)))
	i, j := 0, 0
	for i < len(a.Entries) || j < len(b.Entries) {
		var c int
		switch {
		case i == len(a.Entries):
			c = 1
		case j == len(b.Entries):
			c = -1
		default:
			c = a.Entries[i].Peer.Compare(b.Entries[j].Peer)
		}
		switch {
		case c < 0:
			out = append(out, a.Entries[i])
			i++
		case c > 0:
			out = append(out, b.Entries[j])
			j++
		default:
			ea, eb := a.Entries[i], b.Entries[j]
			highest, ex := mergeState(ea.Highest, ea.Exceptions, eb.Highest, eb.Exceptions)
			out = append(out, Entry{Peer: ea.Peer, Highest: highest, Exceptions: ex})
			i++
			j++
		}
	}
	return Snapshot{Entries: out}
}

// wants returns the versions that the local state lacks and the remote state has.
func wants(
	localHighest uint64, localExceptions []types.Interval,
	remoteHighest uint64, remoteExceptions []types.Interval,
) []types.Interval {
	return Intersect(
		Missing(localHighest, localExceptions, remoteHighest),
		Applied(remoteHighest, remoteExceptions),
	)
}
