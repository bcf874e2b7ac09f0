package state

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/pkg/types"
)

var defaultLog = logger.Logger("whanau/state")

// peer 社交图邻居
type peer struct {
	ch        *rpc.Channel
	walkCount int
}

// State 节点路由状态
type State struct {
	mu  sync.Mutex
	log *slog.Logger

	client    *rpc.Client
	validator record.Validator
	numLayers int

	local types.Target

	// 社交图
	peers map[types.NodeID]*peer

	// setup 轮次与阶段
	setupNumber int
	stage       int
	stageCh     chan struct{}

	// 本节点发布的值与对应记录（下标一一对应）
	myValues  []string
	myRecords []*record.Record

	// 查询令牌：当前代与上一代
	tokensCur  map[types.QueryToken]struct{}
	tokensPrev map[types.QueryToken]struct{}

	// 本轮数据库
	database map[types.Key]*record.Record

	// 各层路由表
	ids     []types.Key
	fingers []map[types.Key]types.Target
	succ    []map[types.Key]*record.Record
}

// Option 状态选项
type Option func(*State)

// WithLogger 指定日志（节点用它把日志同时写入环形缓冲）
func WithLogger(l *slog.Logger) Option {
	return func(s *State) { s.log = l }
}

// New 创建状态
func New(client *rpc.Client, validator record.Validator, numLayers int, opts ...Option) *State {
	s := &State{
		log:        defaultLog,
		client:     client,
		validator:  validator,
		numLayers:  numLayers,
		peers:      make(map[types.NodeID]*peer),
		stageCh:    make(chan struct{}),
		tokensCur:  make(map[types.QueryToken]struct{}),
		tokensPrev: make(map[types.QueryToken]struct{}),
		database:   make(map[types.Key]*record.Record),
	}
	s.resetLayersLocked()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validator 返回记录校验器
func (s *State) Validator() record.Validator {
	return s.validator
}

// Client 返回 RPC 客户端
func (s *State) Client() *rpc.Client {
	return s.client
}

// Logger 返回节点日志
func (s *State) Logger() *slog.Logger {
	return s.log
}

// NumLayers 返回层数
func (s *State) NumLayers() int {
	return s.numLayers
}

// SetLocal 设置本地身份与对外地址（监听成功后调用）
func (s *State) SetLocal(local types.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = local
}

// Local 返回本地目标
func (s *State) Local() types.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// ============================================================================
//                              邻居
// ============================================================================

// AddPeer 添加（或替换）邻居，并重置其游走计数
func (s *State) AddPeer(target types.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[target.ID] = &peer{ch: s.client.Channel(target)}
}

// RemoveAllPeers 删除所有邻居
func (s *State) RemoveAllPeers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = make(map[types.NodeID]*peer)
}

// IsPeer 判断 id 是否为邻居
func (s *State) IsPeer(id types.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[id]
	return ok
}

// Peers 返回所有邻居的通道
func (s *State) Peers() []*rpc.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*rpc.Channel, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p.ch)
	}
	return out
}

// ActivePeers 返回上次调用成功（或尚未失败）的邻居
func (s *State) ActivePeers() []*rpc.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*rpc.Channel, 0, len(s.peers))
	for _, p := range s.peers {
		if p.ch.Active() {
			out = append(out, p.ch)
		}
	}
	return out
}

// ResetPeerActive 把所有邻居重新标记为活跃
func (s *State) ResetPeerActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		p.ch.SetActive(true)
	}
}

// ResetWalkCounts 清零所有邻居的游走计数
func (s *State) ResetWalkCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		p.walkCount = 0
	}
}

// AddWalkCount 给邻居 id 的游走计数加 n，返回新值
//
// id 不是邻居时返回 false，不做任何修改。
func (s *State) AddWalkCount(id types.NodeID, n int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok {
		return 0, false
	}
	p.walkCount += n
	return p.walkCount, true
}

// ============================================================================
//                              setup 阶段
// ============================================================================

// SetupNumber 返回当前 setup 轮次
func (s *State) SetupNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupNumber
}

// NextSetupNumber 开始新一轮 setup，返回新轮次
func (s *State) NextSetupNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupNumber++
	return s.setupNumber
}

// Stage 返回当前阶段
func (s *State) Stage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// SetStage 设置阶段并唤醒所有等待者
//
// 控制命令可以把阶段设回 0 以开始新一轮；轮内推进使用 AdvanceStage。
func (s *State) SetStage(stage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStageLocked(stage)
}

// AdvanceStage 把阶段推进到 stage（只前进，不后退）
func (s *State) AdvanceStage(stage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stage <= s.stage {
		return
	}
	s.setStageLocked(stage)
}

func (s *State) setStageLocked(stage int) {
	s.stage = stage
	close(s.stageCh)
	s.stageCh = make(chan struct{})
}

// WaitForStage 阻塞直到阶段 >= stage 或 ctx 结束
func (s *State) WaitForStage(ctx context.Context, stage int) error {
	for {
		s.mu.Lock()
		if s.stage >= stage {
			s.mu.Unlock()
			return nil
		}
		ch := s.stageCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ============================================================================
//                              本节点的值
// ============================================================================

// AddMyValue 发布一个值并创建对应记录
func (s *State) AddMyValue(value string) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local.Port == 0 {
		return nil, ErrLocalUnknown
	}
	r, err := s.validator.Create(value, s.local.Host, s.local.Port)
	if err != nil {
		return nil, err
	}
	s.myValues = append(s.myValues, value)
	s.myRecords = append(s.myRecords, r)
	return r, nil
}

// MyValues 返回已发布的值
func (s *State) MyValues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.myValues...)
}

// MyRecords 返回本节点的记录
func (s *State) MyRecords() []*record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*record.Record(nil), s.myRecords...)
}

// RandomMyRecord 随机返回一条本节点的记录
func (s *State) RandomMyRecord() (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.myRecords) == 0 {
		s.log.Warn("本节点没有发布任何值")
		return nil, ErrNoRecords
	}
	return s.myRecords[rand.IntN(len(s.myRecords))], nil
}

// ResignValues 重新创建所有记录以刷新创建时间
func (s *State) ResignValues() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.myValues {
		r, err := s.validator.Create(v, s.local.Host, s.local.Port)
		if err != nil {
			s.log.Warn("重新签名记录失败", "value", v, "err", err)
			continue
		}
		s.myRecords[i] = r
	}
}

// ============================================================================
//                              查询令牌
// ============================================================================

// GenerateToken 在当前代生成一个新令牌
func (s *State) GenerateToken() types.QueryToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		tok := types.NewQueryToken()
		if _, dup := s.tokensCur[tok]; dup {
			continue
		}
		if _, dup := s.tokensPrev[tok]; dup {
			continue
		}
		s.tokensCur[tok] = struct{}{}
		return tok
	}
}

// CollectToken 消耗令牌：先查当前代，再查上一代。每个令牌只能成功消耗一次。
func (s *State) CollectToken(tok types.QueryToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokensCur[tok]; ok {
		delete(s.tokensCur, tok)
		return true
	}
	if _, ok := s.tokensPrev[tok]; ok {
		delete(s.tokensPrev, tok)
		return true
	}
	return false
}

// ClearTokens 当前代降为上一代，开启新的当前代
func (s *State) ClearTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokensPrev = s.tokensCur
	s.tokensCur = make(map[types.QueryToken]struct{})
}

// ============================================================================
//                              数据库
// ============================================================================

// SetDatabase 整体替换数据库
func (s *State) SetDatabase(db map[types.Key]*record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.database = db
}

// DatabaseKeys 返回数据库中所有键
func (s *State) DatabaseKeys() []types.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]types.Key, 0, len(s.database))
	for k := range s.database {
		keys = append(keys, k)
	}
	return keys
}

// DatabaseGet 读取数据库记录
func (s *State) DatabaseGet(key types.Key) (*record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.database[key]
	return r, ok
}

// RandomDatabaseKey 随机返回一个数据库键
func (s *State) RandomDatabaseKey() (types.Key, bool) {
	keys := s.DatabaseKeys()
	if len(keys) == 0 {
		return "", false
	}
	return keys[rand.IntN(len(keys))], true
}

// ============================================================================
//                              各层路由表
// ============================================================================

func (s *State) resetLayersLocked() {
	s.ids = make([]types.Key, s.numLayers)
	s.fingers = make([]map[types.Key]types.Target, s.numLayers)
	s.succ = make([]map[types.Key]*record.Record, s.numLayers)
	for i := 0; i < s.numLayers; i++ {
		s.fingers[i] = make(map[types.Key]types.Target)
		s.succ[i] = make(map[types.Key]*record.Record)
	}
}

// checkLayerLocked 层号越界检查
func (s *State) checkLayerLocked(layer int) error {
	if layer < 0 || layer >= s.numLayers {
		s.log.Warn("层号越界", "layer", layer, "numLayers", s.numLayers)
		return ErrLayerOutOfRange
	}
	return nil
}

// ID 返回第 layer 层的 ID（未设置时为空串）
func (s *State) ID(layer int) (types.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLayerLocked(layer); err != nil {
		return "", err
	}
	return s.ids[layer], nil
}

// SetID 设置第 layer 层的 ID
func (s *State) SetID(layer int, id types.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLayerLocked(layer); err != nil {
		return err
	}
	s.ids[layer] = id
	return nil
}

// Fingers 返回第 layer 层 finger 表的副本
func (s *State) Fingers(layer int) (map[types.Key]types.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLayerLocked(layer); err != nil {
		return nil, err
	}
	out := make(map[types.Key]types.Target, len(s.fingers[layer]))
	for k, v := range s.fingers[layer] {
		out[k] = v
	}
	return out, nil
}

// FingerIDs 返回第 layer 层所有 finger 的 ID
func (s *State) FingerIDs(layer int) ([]types.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLayerLocked(layer); err != nil {
		return nil, err
	}
	ids := make([]types.Key, 0, len(s.fingers[layer]))
	for k := range s.fingers[layer] {
		ids = append(ids, k)
	}
	return ids, nil
}

// RandomFingerID 随机返回第 layer 层的一个 finger ID
func (s *State) RandomFingerID(layer int) (types.Key, bool) {
	ids, err := s.FingerIDs(layer)
	if err != nil || len(ids) == 0 {
		return "", false
	}
	return ids[rand.IntN(len(ids))], true
}

// SetFingers 整体替换第 layer 层 finger 表
func (s *State) SetFingers(layer int, fingers map[types.Key]types.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLayerLocked(layer); err != nil {
		return err
	}
	s.fingers[layer] = fingers
	return nil
}

// Successor 读取第 layer 层 successor 表中 key 对应的记录
func (s *State) Successor(layer int, key types.Key) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLayerLocked(layer); err != nil {
		return nil, err
	}
	return s.succ[layer][key], nil
}

// Successors 返回第 layer 层 successor 表的副本
func (s *State) Successors(layer int) (map[types.Key]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLayerLocked(layer); err != nil {
		return nil, err
	}
	out := make(map[types.Key]*record.Record, len(s.succ[layer]))
	for k, v := range s.succ[layer] {
		out[k] = v
	}
	return out, nil
}

// SetSuccessors 整体替换第 layer 层 successor 表
func (s *State) SetSuccessors(layer int, succ map[types.Key]*record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLayerLocked(layer); err != nil {
		return err
	}
	s.succ[layer] = succ
	return nil
}
