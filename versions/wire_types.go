package versions

import (
	"github.com/spacemeshos/go-scale"

	"github.com/spacemeshos/go-regionsync/common/types"
)

const (
	// maxSnapshotPeers is the maximum number of peers in an encoded snapshot.
	maxSnapshotPeers = 1 << 16
	// maxEntryExceptions is the maximum number of exception intervals per peer.
	maxEntryExceptions = 1 << 20
)

// EncodeScale implements scale.Encodable.
func (e *Entry) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := e.Peer.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, e.Highest)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStructSliceWithLimit(enc, e.Exceptions, maxEntryExceptions)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (e *Entry) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := e.Peer.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		e.Highest = field
	}
	{
		field, n, err := scale.DecodeStructSliceWithLimit[types.Interval](dec, maxEntryExceptions)
		if err != nil {
			return total, err
		}
		total += n
		e.Exceptions = field
	}
	if err := e.validate(); err != nil {
		return total, err
	}
	return total, nil
}

// EncodeScale implements scale.Encodable.
func (s *Snapshot) EncodeScale(enc *scale.Encoder) (total int, err error) {
	n, err := scale.EncodeStructSliceWithLimit(enc, s.Entries, maxSnapshotPeers)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

// DecodeScale implements scale.Decodable.
func (s *Snapshot) DecodeScale(dec *scale.Decoder) (total int, err error) {
	field, n, err := scale.DecodeStructSliceWithLimit[Entry](dec, maxSnapshotPeers)
	if err != nil {
		return total, err
	}
	s.Entries = field
	return total + n, nil
}
