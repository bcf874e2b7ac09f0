package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/pkg/types"
)

// PeerInfo 邻居快照
type PeerInfo struct {
	Target    types.Target `json:"target"`
	Active    bool         `json:"active"`
	WalkCount int          `json:"walk_count"`
}

// LayerInfo 单层路由表快照
type LayerInfo struct {
	ID         types.Key   `json:"id"`
	Fingers    []types.Key `json:"fingers"`
	Successors []types.Key `json:"successors"`
}

// Snapshot 结构化状态快照（getState 的返回值）
type Snapshot struct {
	Local          types.Target `json:"local"`
	SetupNumber    int          `json:"setup_number"`
	Stage          int          `json:"stage"`
	Peers          []PeerInfo   `json:"peers"`
	Values         []string     `json:"values"`
	Database       []types.Key  `json:"database"`
	Layers         []LayerInfo  `json:"layers"`
	TokensCurrent  int          `json:"tokens_current"`
	TokensPrevious int          `json:"tokens_previous"`
	Validator      record.Stats `json:"validator"`
}

// Snapshot 返回当前状态的一致快照
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Local:          s.local,
		SetupNumber:    s.setupNumber,
		Stage:          s.stage,
		Values:         append([]string(nil), s.myValues...),
		TokensCurrent:  len(s.tokensCur),
		TokensPrevious: len(s.tokensPrev),
		Validator:      s.validator.Stats(),
	}
	for _, p := range s.peers {
		snap.Peers = append(snap.Peers, PeerInfo{
			Target:    p.ch.Target(),
			Active:    p.ch.Active(),
			WalkCount: p.walkCount,
		})
	}
	sort.Slice(snap.Peers, func(i, j int) bool {
		return snap.Peers[i].Target.ID.String() < snap.Peers[j].Target.ID.String()
	})

	db := make([]types.Key, 0, len(s.database))
	for k := range s.database {
		db = append(db, k)
	}
	snap.Database = types.SortKeys(db)

	for i := 0; i < s.numLayers; i++ {
		layer := LayerInfo{ID: s.ids[i]}
		for k := range s.fingers[i] {
			layer.Fingers = append(layer.Fingers, k)
		}
		for k := range s.succ[i] {
			layer.Successors = append(layer.Successors, k)
		}
		layer.Fingers = types.SortKeys(layer.Fingers)
		layer.Successors = types.SortKeys(layer.Successors)
		snap.Layers = append(snap.Layers, layer)
	}
	return snap
}

// String 返回人类可读的状态转储（getStateStr）
func (s *State) String() string {
	snap := s.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "node %s\n", snap.Local)
	fmt.Fprintf(&b, "setup #%d stage %d\n", snap.SetupNumber, snap.Stage)
	fmt.Fprintf(&b, "tokens: %d current, %d previous\n", snap.TokensCurrent, snap.TokensPrevious)
	fmt.Fprintf(&b, "validator: %d creates, %d checks\n", snap.Validator.Creates, snap.Validator.Checks)

	fmt.Fprintf(&b, "peers (%d):\n", len(snap.Peers))
	for _, p := range snap.Peers {
		fmt.Fprintf(&b, "  %s active=%t walks=%d\n", p.Target, p.Active, p.WalkCount)
	}

	fmt.Fprintf(&b, "values (%d):\n", len(snap.Values))
	for _, v := range snap.Values {
		fmt.Fprintf(&b, "  %q\n", v)
	}

	fmt.Fprintf(&b, "database (%d):\n", len(snap.Database))
	for _, k := range snap.Database {
		fmt.Fprintf(&b, "  %s\n", k)
	}

	for i, layer := range snap.Layers {
		fmt.Fprintf(&b, "layer %d id=%s fingers=%d successors=%d\n",
			i, layer.ID, len(layer.Fingers), len(layer.Successors))
		for _, f := range layer.Fingers {
			fmt.Fprintf(&b, "  finger %s\n", f)
		}
		for _, k := range layer.Successors {
			fmt.Fprintf(&b, "  succ %s\n", k)
		}
	}
	return b.String()
}
