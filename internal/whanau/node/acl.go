package node

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/pkg/types"
)

// accessControl 控制列表与邻居限速
type accessControl struct {
	control       map[types.NodeID]struct{}
	openWhenEmpty bool

	maxWalkBudget int
	sampleRate    rate.Limit
	sampleBurst   int

	mu       sync.Mutex
	limiters map[types.NodeID]*rate.Limiter
}

func newAccessControl(ctl config.ControlConfig, peers config.PeersConfig) (*accessControl, error) {
	ids, err := ctl.IDs()
	if err != nil {
		return nil, err
	}
	a := &accessControl{
		control:       make(map[types.NodeID]struct{}, len(ids)),
		openWhenEmpty: ctl.OpenWhenEmpty,
		maxWalkBudget: peers.MaxWalkBudget,
		sampleBurst:   peers.SampleBurst,
		limiters:      make(map[types.NodeID]*rate.Limiter),
	}
	if peers.SampleRate > 0 {
		a.sampleRate = rate.Limit(peers.SampleRate)
	}
	for _, id := range ids {
		a.control[id] = struct{}{}
	}
	return a, nil
}

// allowControl 调用方是否可以执行控制命令
func (a *accessControl) allowControl(caller types.NodeID) bool {
	if len(a.control) == 0 {
		return a.openWhenEmpty
	}
	_, ok := a.control[caller]
	return ok
}

// allowSample 邻居 sampleNodes 是否在速率之内
func (a *accessControl) allowSample(caller types.NodeID) bool {
	if a.sampleRate == 0 {
		return true
	}
	a.mu.Lock()
	l, ok := a.limiters[caller]
	if !ok {
		l = rate.NewLimiter(a.sampleRate, a.sampleBurst)
		a.limiters[caller] = l
	}
	a.mu.Unlock()
	return l.Allow()
}

// overBudget 累计游走量是否超过预算
func (a *accessControl) overBudget(count int) bool {
	return a.maxWalkBudget > 0 && count > a.maxWalkBudget
}
