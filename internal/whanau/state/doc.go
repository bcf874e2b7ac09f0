// Package state 实现节点的路由状态
//
// State 是一个监视器：邻居集合、各层 ID / finger 表 / successor 表、
// 本轮数据库快照、两代查询令牌池以及 setup 阶段计数，全部在同一把锁下读写。
//
// 阶段门：SetStage 会唤醒所有 WaitForStage 的等待者。等待基于一个在每次
// 阶段变化时关闭并替换的广播 channel，因此可以与 context 一起 select。
//
// 令牌池分两代：ClearTokens 把当前池降为上一代并开启新的当前池，
// 于是在一轮 setup 开始前刚发出的令牌在本轮中仍然有效。
package state
