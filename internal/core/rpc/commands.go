package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/dep2p/go-whanau/pkg/types"
)

// ============================================================================
//                              命令与访问类别
// ============================================================================

// Command 命令名（线上格式）
type Command string

// 控制命令
const (
	CmdCreateNode           Command = "createNode"
	CmdGetState             Command = "getState"
	CmdGetStateStr          Command = "getStateStr"
	CmdGetLogStr            Command = "getLogStr"
	CmdAddPeer              Command = "addPeer"
	CmdRemoveAllPeers       Command = "removeAllPeers"
	CmdSetSetupStage        Command = "setSetupStage"
	CmdRunSetupPart1Thread  Command = "runSetupPart1Thread"
	CmdRunSetupPart2Thread  Command = "runSetupPart2Thread"
	CmdJoinSetupThread      Command = "joinSetupThread"
	CmdGetSetupThreadResult Command = "getSetupThreadResult"
	CmdLookup               Command = "lookup"
	CmdPublishValue         Command = "publishValue"
)

// 邻居命令
const (
	CmdSampleNodes Command = "sampleNodes"
)

// 公开命令
const (
	CmdGetID            Command = "getID"
	CmdSuccessorsSample Command = "successorsSample"
	CmdLookupTry        Command = "lookupTry"
	CmdGetPubKeyHash    Command = "getPubKeyHash"
	CmdWaitStage        Command = "waitStage"
	CmdQuery            Command = "query"
)

// Class 命令的访问类别
type Class int

const (
	// ClassPublic 任何人可调用
	ClassPublic Class = iota
	// ClassToken 需要出示有效的一次性查询令牌
	ClassToken
	// ClassPeer 调用方必须是社交图邻居
	ClassPeer
	// ClassControl 调用方必须在控制列表中
	ClassControl
)

// String 返回类别名
func (c Class) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassToken:
		return "token"
	case ClassPeer:
		return "peer"
	case ClassControl:
		return "control"
	default:
		return "unknown"
	}
}

// commandEntry 命令表项
type commandEntry struct {
	class   Class
	newArgs func() Call
}

// commands 命令表
var commands = map[Command]commandEntry{
	CmdCreateNode:           {ClassControl, func() Call { return &CreateNodeArgs{} }},
	CmdGetState:             {ClassControl, func() Call { return &GetStateArgs{} }},
	CmdGetStateStr:          {ClassControl, func() Call { return &GetStateStrArgs{} }},
	CmdGetLogStr:            {ClassControl, func() Call { return &GetLogStrArgs{} }},
	CmdAddPeer:              {ClassControl, func() Call { return &AddPeerArgs{} }},
	CmdRemoveAllPeers:       {ClassControl, func() Call { return &RemoveAllPeersArgs{} }},
	CmdSetSetupStage:        {ClassControl, func() Call { return &SetSetupStageArgs{} }},
	CmdRunSetupPart1Thread:  {ClassControl, func() Call { return &RunSetupArgs{Part: 1} }},
	CmdRunSetupPart2Thread:  {ClassControl, func() Call { return &RunSetupArgs{Part: 2} }},
	CmdJoinSetupThread:      {ClassControl, func() Call { return &JoinSetupThreadArgs{} }},
	CmdGetSetupThreadResult: {ClassControl, func() Call { return &GetSetupThreadResultArgs{} }},
	CmdLookup:               {ClassControl, func() Call { return &LookupArgs{} }},
	CmdPublishValue:         {ClassControl, func() Call { return &PublishValueArgs{} }},

	CmdSampleNodes: {ClassPeer, func() Call { return &SampleNodesArgs{} }},

	CmdGetID:            {ClassToken, func() Call { return &GetIDArgs{} }},
	CmdSuccessorsSample: {ClassToken, func() Call { return &SuccessorsSampleArgs{} }},
	CmdLookupTry:        {ClassToken, func() Call { return &LookupTryArgs{} }},
	CmdGetPubKeyHash:    {ClassPublic, func() Call { return &GetPubKeyHashArgs{} }},
	CmdWaitStage:        {ClassPublic, func() Call { return &WaitStageArgs{} }},
	CmdQuery:            {ClassPublic, func() Call { return &QueryArgs{} }},
}

// ClassOf 返回命令的访问类别
func ClassOf(cmd Command) (Class, bool) {
	entry, ok := commands[cmd]
	return entry.class, ok
}

// DecodeCall 按命令名把参数解码为对应的参数结构
func DecodeCall(cmd Command, args json.RawMessage) (Call, error) {
	entry, ok := commands[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	call := entry.newArgs()
	if len(args) > 0 {
		if err := json.Unmarshal(args, call); err != nil {
			return nil, fmt.Errorf("decode %s args: %w", cmd, err)
		}
	}
	return call, nil
}

// ============================================================================
//                              参数结构
// ============================================================================

// Call 一个带类型参数的调用
type Call interface {
	Command() Command
}

// Tokened 需要查询令牌的调用
type Tokened interface {
	Call
	QueryToken() types.QueryToken
}

// CreateNodeArgs 在同一主机上创建子节点
type CreateNodeArgs struct {
	Port  int    `json:"port"`
	Value string `json:"value,omitempty"`
}

// GetStateArgs 获取结构化状态快照
type GetStateArgs struct{}

// GetStateStrArgs 获取状态文本
type GetStateStrArgs struct{}

// GetLogStrArgs 获取最近日志
type GetLogStrArgs struct{}

// AddPeerArgs 添加社交图邻居
type AddPeerArgs struct {
	ID   types.NodeID `json:"id"`
	Host string       `json:"host"`
	Port int          `json:"port"`
}

// RemoveAllPeersArgs 删除所有邻居
type RemoveAllPeersArgs struct{}

// SetSetupStageArgs 设置 setup 阶段
type SetSetupStageArgs struct {
	Stage int `json:"stage"`
}

// RunSetupArgs 在后台运行 setup 的第 Part 阶段
type RunSetupArgs struct {
	Part int `json:"-"`
	W    int `json:"w"`
	RD   int `json:"rd"`
	RF   int `json:"rf"`
	RS   int `json:"rs"`
}

// JoinSetupThreadArgs 等待后台 setup 结束
type JoinSetupThreadArgs struct {
	TimeoutMillis int64 `json:"timeout_ms"`
}

// GetSetupThreadResultArgs 获取后台 setup 结果（毫秒，0 = 失败或无）
type GetSetupThreadResultArgs struct{}

// LookupArgs 控制端发起 lookup
type LookupArgs struct {
	LookupTimeoutMillis int64     `json:"lookup_timeout_ms"`
	QueryTimeoutMillis  int64     `json:"query_timeout_ms"`
	NumThreads          int       `json:"num_threads"`
	W                   int       `json:"w"`
	Key                 types.Key `json:"key"`
}

// PublishValueArgs 发布一个值
type PublishValueArgs struct {
	Value string `json:"value"`
}

// SampleNodesArgs 随机游走采样
type SampleNodesArgs struct {
	NumNodes int `json:"num_nodes"`
	Steps    int `json:"steps"`
}

// GetIDArgs 获取第 Layer 层的 ID
type GetIDArgs struct {
	Token types.QueryToken `json:"token"`
	Layer int              `json:"layer"`
}

// SuccessorsSampleArgs 获取 ID 的后继记录
type SuccessorsSampleArgs struct {
	Token types.QueryToken `json:"token"`
	ID    types.Key        `json:"id"`
}

// LookupTryArgs 一次 lookup 尝试
type LookupTryArgs struct {
	Token              types.QueryToken `json:"token"`
	QueryTimeoutMillis int64            `json:"query_timeout_ms"`
	Key                types.Key        `json:"key"`
}

// GetPubKeyHashArgs 获取身份哈希
type GetPubKeyHashArgs struct{}

// WaitStageArgs 等待 setup 阶段
type WaitStageArgs struct {
	Stage int `json:"stage"`
}

// QueryArgs 查询第 Layer 层 successor 表
type QueryArgs struct {
	Key   types.Key `json:"key"`
	Layer int       `json:"layer"`
}

func (*CreateNodeArgs) Command() Command           { return CmdCreateNode }
func (*GetStateArgs) Command() Command             { return CmdGetState }
func (*GetStateStrArgs) Command() Command          { return CmdGetStateStr }
func (*GetLogStrArgs) Command() Command            { return CmdGetLogStr }
func (*AddPeerArgs) Command() Command              { return CmdAddPeer }
func (*RemoveAllPeersArgs) Command() Command       { return CmdRemoveAllPeers }
func (*SetSetupStageArgs) Command() Command        { return CmdSetSetupStage }
func (*JoinSetupThreadArgs) Command() Command      { return CmdJoinSetupThread }
func (*GetSetupThreadResultArgs) Command() Command { return CmdGetSetupThreadResult }
func (*LookupArgs) Command() Command               { return CmdLookup }
func (*PublishValueArgs) Command() Command         { return CmdPublishValue }
func (*SampleNodesArgs) Command() Command          { return CmdSampleNodes }
func (*GetIDArgs) Command() Command                { return CmdGetID }
func (*SuccessorsSampleArgs) Command() Command     { return CmdSuccessorsSample }
func (*LookupTryArgs) Command() Command            { return CmdLookupTry }
func (*GetPubKeyHashArgs) Command() Command        { return CmdGetPubKeyHash }
func (*WaitStageArgs) Command() Command            { return CmdWaitStage }
func (*QueryArgs) Command() Command                { return CmdQuery }

// Command 按 Part 区分两个 setup 命令
func (a *RunSetupArgs) Command() Command {
	if a.Part == 2 {
		return CmdRunSetupPart2Thread
	}
	return CmdRunSetupPart1Thread
}

func (a *GetIDArgs) QueryToken() types.QueryToken            { return a.Token }
func (a *SuccessorsSampleArgs) QueryToken() types.QueryToken { return a.Token }
func (a *LookupTryArgs) QueryToken() types.QueryToken        { return a.Token }
