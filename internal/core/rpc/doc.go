// Package rpc 实现节点间的请求/响应通道
//
// 每次调用打开一条新的安全连接，写入一个请求帧（命令名 + 参数），
// 读取恰好一个响应帧后关闭连接。
//
// 帧格式: 4 字节大端长度 + JSON 消息体。
//
// 命令是一个封闭集合（commands.go）：每个命令有固定的参数结构和访问类别，
// 服务端按命令名解码到对应的参数结构，不做运行时类型转换。
package rpc
