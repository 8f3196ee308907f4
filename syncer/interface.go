package syncer

import (
	"context"

	"github.com/spacemeshos/go-regionsync/common/types"
)

//go:generate mockgen -typed -package=mocks -destination=./mocks/mocks.go -source=./interface.go

// Synchronizer requests the versions missing from a peer.
//
// The result is delivered asynchronously on the returned channel: a nil error (or
// closing the channel without a value) means the missing versions were delivered
// through the regular update path. A nil channel means the request completed
// synchronously with the same meaning. Versions that are still missing after a
// successful result count as a failed attempt. The request must be abandoned when
// ctx is done.
type Synchronizer interface {
	RequestSynchronization(ctx context.Context, peer types.PeerID, missing []types.Interval) <-chan error
}

// Region is notified about gaps that could not be recovered.
type Region interface {
	ReportUnrecoverableGap(peer types.PeerID, missing []types.Interval)
}
