package sim

import (
	"io"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/spacemeshos/go-regionsync/common/types"
)

// region collects gaps reported as unrecoverable.
type region struct {
	mu      sync.Mutex
	gaps    map[types.PeerID]types.Intervals
	reports map[types.PeerID]int
}

func newRegion() *region {
	return &region{
		gaps:    map[types.PeerID]types.Intervals{},
		reports: map[types.PeerID]int{},
	}
}

// ReportUnrecoverableGap implements syncer.Region.
func (r *region) ReportUnrecoverableGap(peer types.PeerID, missing []types.Interval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaps[peer] = slices.Clone(missing)
	r.reports[peer]++
}

func (r *region) get(peer types.PeerID) (types.Intervals, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gaps[peer], r.reports[peer]
}

// Report is the state of the region after a trace was replayed.
type Report struct {
	Peers         []PeerState `yaml:"peers"`
	Unrecoverable []Gap       `yaml:"unrecoverable,omitempty"`
}

// PeerState is the final state of a peer's versions.
type PeerState struct {
	Peer    string `yaml:"peer"`
	Highest uint64 `yaml:"highest"`
	Missing string `yaml:"missing,omitempty"`
}

// Gap is a gap reported as unrecoverable.
type Gap struct {
	Peer    string `yaml:"peer"`
	Missing string `yaml:"missing"`
	Reports int    `yaml:"reports"`
}

// Encode writes the report as YAML.
func (rep *Report) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}

func (r *runner) report() *Report {
	rep := &Report{}
	snapshot := r.coord.Vector().Snapshot()
	for _, e := range snapshot.Entries {
		st := PeerState{Peer: r.name(e.Peer), Highest: e.Highest}
		if len(e.Exceptions) != 0 {
			st.Missing = types.Intervals(e.Exceptions).String()
		}
		rep.Peers = append(rep.Peers, st)
		if gaps, reports := r.region.get(e.Peer); reports > 0 {
			rep.Unrecoverable = append(rep.Unrecoverable, Gap{
				Peer:    st.Peer,
				Missing: gaps.String(),
				Reports: reports,
			})
		}
	}
	slices.SortFunc(rep.Peers, func(a, b PeerState) int {
		return strings.Compare(a.Peer, b.Peer)
	})
	slices.SortFunc(rep.Unrecoverable, func(a, b Gap) int {
		return strings.Compare(a.Peer, b.Peer)
	})
	return rep
}
