package versions

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/go-regionsync/common/types"
)

// Holder tracks the versions applied from a single peer: the highest applied version,
// the exceptions (missing versions below it), and the synchronization guard.
//
// Exceptions are protected by a per-holder mutex. The guard and the epoch are atomic
// so that the scheduling check never contends with version recording.
type Holder struct {
	peer types.PeerID

	mu         sync.Mutex
	highest    uint64
	exceptions []types.Interval

	// guard packs the scheduled-or-done flag (lowest bit) with the epoch, which is
	// incremented every time the flag is reset. Keeping both in one word lets the
	// scheduling winner learn its epoch atomically with winning.
	guard atomic.Uint64
}

// NewHolder creates an empty holder for the peer.
func NewHolder(peer types.PeerID) *Holder {
	return &Holder{peer: peer}
}

// Peer returns the peer the holder tracks.
func (h *Holder) Peer() types.PeerID {
	return h.peer
}

// RecordVersion records that version v from the peer has been observed.
// On error the holder is left unchanged.
func (h *Holder) RecordVersion(v uint64) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := Apply(h.highest, h.exceptions, v)
	if err != nil {
		return Result{}, err
	}
	h.highest = d.Highest
	h.exceptions = d.Exceptions
	return d.Result, nil
}

// HasGap returns true if some versions below the highest one are missing.
func (h *Holder) HasGap() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.exceptions) != 0
}

// Highest returns the highest applied version.
func (h *Holder) Highest() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.highest
}

// Exceptions returns a copy of the missing version intervals.
func (h *Holder) Exceptions() types.Intervals {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.exceptions)
}

// Contains returns true if version v has been applied.
func (h *Holder) Contains(v uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v == 0 || v > h.highest {
		return false
	}
	_, missing := find(h.exceptions, v)
	return !missing
}

func (h *Holder) state() (uint64, []types.Interval) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.highest, slices.Clone(h.exceptions)
}

// merge folds the remote state into the holder. Both states must be normalized.
func (h *Holder) merge(highest uint64, exceptions []types.Interval) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.highest, h.exceptions = mergeState(h.highest, h.exceptions, highest, exceptions)
}

const scheduledBit = 1

// SetSynchronizeScheduled marks the synchronization as scheduled or done,
// regardless of the previous state.
func (h *Holder) SetSynchronizeScheduled() {
	h.guard.Or(scheduledBit)
}

// SetSynchronizeScheduledOrDoneIfNot marks the synchronization as scheduled.
// It returns true only to the caller that flipped the guard; that caller owns the
// obligation to perform the synchronization.
func (h *Holder) SetSynchronizeScheduledOrDoneIfNot() bool {
	_, ok := h.TrySchedule()
	return ok
}

// TrySchedule is SetSynchronizeScheduledOrDoneIfNot that also returns the epoch in
// which the guard was taken.
func (h *Holder) TrySchedule() (epoch uint64, ok bool) {
	for {
		old := h.guard.Load()
		if old&scheduledBit != 0 {
			return 0, false
		}
		if h.guard.CompareAndSwap(old, old|scheduledBit) {
			return old >> 1, true
		}
	}
}

// IsSynchronizeScheduled returns the current value of the guard.
func (h *Holder) IsSynchronizeScheduled() bool {
	return h.guard.Load()&scheduledBit != 0
}

// ResetSynchronizeScheduled clears the guard and starts a new epoch.
func (h *Holder) ResetSynchronizeScheduled() {
	for {
		old := h.guard.Load()
		if h.guard.CompareAndSwap(old, (old>>1+1)<<1) {
			return
		}
	}
}

// Epoch returns the current guard generation.
func (h *Holder) Epoch() uint64 {
	return h.guard.Load() >> 1
}

// ResetIfEpoch clears the guard only if no reset happened since epoch was taken.
// It returns false if the epoch has moved on, in which case the caller's obligation
// is stale and must be dropped.
func (h *Holder) ResetIfEpoch(epoch uint64) bool {
	for {
		old := h.guard.Load()
		if old>>1 != epoch {
			return false
		}
		if h.guard.CompareAndSwap(old, (epoch+1)<<1) {
			return true
		}
	}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (h *Holder) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	highest, exceptions := h.state()
	enc.AddString("peer", h.peer.ShortString())
	enc.AddUint64("highest", highest)
	enc.AddBool("scheduled", h.IsSynchronizeScheduled())
	enc.AddUint64("epoch", h.Epoch())
	return enc.AddArray("exceptions", types.Intervals(exceptions))
}
