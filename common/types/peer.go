package types

import (
	"cmp"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap/zapcore"
)

// PeerIDSize is the size of the PeerID in bytes.
const PeerIDSize = 16

// PeerID identifies a member contributing versions to a region. It is the
// member's persistent identity split into two halves.
type PeerID struct {
	Most  uint64
	Least uint64
}

// EmptyPeerID is a canonical empty PeerID. It is not a valid peer identity.
var EmptyPeerID PeerID

// NewPeerID generates a random PeerID.
func NewPeerID() PeerID {
	return PeerIDFromUUID(uuid.New())
}

// PeerIDFromUUID converts a UUID into a PeerID.
func PeerIDFromUUID(u uuid.UUID) PeerID {
	return PeerID{
		Most:  binary.BigEndian.Uint64(u[:8]),
		Least: binary.BigEndian.Uint64(u[8:]),
	}
}

// ParsePeerID parses the string representation produced by PeerID.String.
func ParsePeerID(s string) (PeerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EmptyPeerID, fmt.Errorf("%w: %s", ErrInvalidPeer, err)
	}
	return PeerIDFromUUID(u), nil
}

// UUID returns the UUID form of the PeerID.
func (id PeerID) UUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[:8], id.Most)
	binary.BigEndian.PutUint64(u[8:], id.Least)
	return u
}

// Bytes returns the byte representation of the PeerID.
func (id PeerID) Bytes() []byte {
	u := id.UUID()
	return u[:]
}

// String returns a string representation of the PeerID, for logging purposes.
// It implements the Stringer interface.
func (id PeerID) String() string {
	return id.UUID().String()
}

// ShortString returns the first 8 characters of the ID, for logging purposes.
func (id PeerID) ShortString() string {
	return id.String()[:8]
}

// Empty returns true if the PeerID is EmptyPeerID.
func (id PeerID) Empty() bool {
	return id == EmptyPeerID
}

// Compare orders peers by Most, then by Least.
func (id PeerID) Compare(other PeerID) int {
	if c := cmp.Compare(id.Most, other.Most); c != 0 {
		return c
	}
	return cmp.Compare(id.Least, other.Least)
}

// EncodeScale implements scale codec interface.
func (id *PeerID) EncodeScale(e *scale.Encoder) (int, error) {
	return scale.EncodeByteArray(e, id.Bytes())
}

// DecodeScale implements scale codec interface.
func (id *PeerID) DecodeScale(d *scale.Decoder) (int, error) {
	var buf [PeerIDSize]byte
	n, err := scale.DecodeByteArray(d, buf[:])
	if err != nil {
		return n, err
	}
	*id = PeerIDFromUUID(uuid.UUID(buf))
	return n, nil
}

func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PeerID) UnmarshalText(buf []byte) error {
	parsed, err := ParsePeerID(string(buf))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PeerIDs is a list of peers that can be logged as an array.
type PeerIDs []PeerID

// MarshalLogArray implements zapcore.ArrayMarshaler.
func (ids PeerIDs) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, id := range ids {
		enc.AppendString(id.ShortString())
	}
	return nil
}
