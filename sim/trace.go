// Package sim replays traces of region updates through a version vector and a
// synchronization coordinator that recovers missing versions over a loopback.
package sim

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Trace is a recorded sequence of region events.
//
//	unreachable: [c]
//	lost:
//	  b: [4]
//	events:
//	  - observe: {peer: a, versions: [1, 2, 5]}
//	  - merge: {peers: [{peer: b, highest: 6, missing: [[2, 4]]}]}
//	  - depart: {peer: a}
//	  - settle: {}
type Trace struct {
	// Unreachable peers fail every synchronization request.
	Unreachable []string `yaml:"unreachable"`
	// Lost versions can't be delivered by their peer.
	Lost   map[string][]uint64 `yaml:"lost"`
	Events []Event             `yaml:"events"`
}

// Event is a single trace step. Exactly one field must be set.
type Event struct {
	Observe *ObserveEvent `yaml:"observe,omitempty"`
	Merge   *MergeEvent   `yaml:"merge,omitempty"`
	Depart  *DepartEvent  `yaml:"depart,omitempty"`
	Settle  *SettleEvent  `yaml:"settle,omitempty"`
}

// ObserveEvent delivers versions from a peer in the given order.
type ObserveEvent struct {
	Peer     string   `yaml:"peer"`
	Versions []uint64 `yaml:"versions"`
}

// MergeEvent exchanges vectors with a reconnected replica.
type MergeEvent struct {
	Peers []RemotePeer `yaml:"peers"`
}

// RemotePeer is the state of a peer as known by a remote replica.
// Missing holds half-open [lo, hi) version ranges.
type RemotePeer struct {
	Peer    string      `yaml:"peer"`
	Highest uint64      `yaml:"highest"`
	Missing [][2]uint64 `yaml:"missing"`
}

// DepartEvent removes a peer from the region.
type DepartEvent struct {
	Peer string `yaml:"peer"`
}

// SettleEvent waits until no synchronization is outstanding.
type SettleEvent struct{}

func (ev *Event) step() (step, error) {
	var (
		steps []step
		names []string
	)
	if ev.Observe != nil {
		steps, names = append(steps, ev.Observe), append(names, "observe")
	}
	if ev.Merge != nil {
		steps, names = append(steps, ev.Merge), append(names, "merge")
	}
	if ev.Depart != nil {
		steps, names = append(steps, ev.Depart), append(names, "depart")
	}
	if ev.Settle != nil {
		steps, names = append(steps, ev.Settle), append(names, "settle")
	}
	switch len(steps) {
	case 0:
		return nil, errors.New("empty event")
	case 1:
		return steps[0], nil
	default:
		return nil, fmt.Errorf("event sets more than one of %v", names)
	}
}

// ReadTrace decodes a YAML trace.
func ReadTrace(r io.Reader) (*Trace, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var trace Trace
	if err := dec.Decode(&trace); err != nil {
		if errors.Is(err, io.EOF) {
			return &trace, nil
		}
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	for i := range trace.Events {
		if _, err := trace.Events[i].step(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return &trace, nil
}

// ReadTraceFile decodes a YAML trace from the file at path.
func ReadTraceFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTrace(f)
}
