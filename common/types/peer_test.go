package types

import (
	"bytes"
	"slices"
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"
)

func TestPeerIDStringRoundTrip(t *testing.T) {
	id := NewPeerID()
	require.False(t, id.Empty())

	parsed, err := ParsePeerID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	require.Equal(t, id.String()[:8], id.ShortString())
}

func TestParsePeerIDInvalid(t *testing.T) {
	_, err := ParsePeerID("not-a-peer")
	require.ErrorIs(t, err, ErrInvalidPeer)
}

func TestPeerIDHalves(t *testing.T) {
	id := PeerID{Most: 1, Least: 2}
	require.Equal(t, "00000000-0000-0001-0000-000000000002", id.String())
	require.Equal(t, id, PeerIDFromUUID(id.UUID()))
}

func TestPeerIDCompare(t *testing.T) {
	ids := []PeerID{
		{Most: 2, Least: 0},
		{Most: 1, Least: 5},
		{Most: 1, Least: 1},
		EmptyPeerID,
	}
	slices.SortFunc(ids, PeerID.Compare)
	require.Equal(t, []PeerID{
		EmptyPeerID,
		{Most: 1, Least: 1},
		{Most: 1, Least: 5},
		{Most: 2, Least: 0},
	}, ids)
	require.Zero(t, ids[1].Compare(PeerID{Most: 1, Least: 1}))
}

func TestPeerIDScale(t *testing.T) {
	id := NewPeerID()
	var buf bytes.Buffer
	n, err := id.EncodeScale(scale.NewEncoder(&buf))
	require.NoError(t, err)
	require.Equal(t, PeerIDSize, n)

	var decoded PeerID
	_, err = decoded.DecodeScale(scale.NewDecoder(&buf))
	require.NoError(t, err)
	require.Equal(t, id, decoded)
}

func TestPeerIDText(t *testing.T) {
	id := NewPeerID()
	text, err := id.MarshalText()
	require.NoError(t, err)

	var decoded PeerID
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, id, decoded)
	require.ErrorIs(t, decoded.UnmarshalText([]byte("zzz")), ErrInvalidPeer)
}
