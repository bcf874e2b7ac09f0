package types

import (
	"crypto/rand"

	"github.com/mr-tron/base58"
)

// QueryToken 一次性查询令牌
//
// 随机游走在 0 跳处生成，受保护的公开调用必须出示并消耗它。
type QueryToken string

// tokenBytes 令牌熵（字节）
const tokenBytes = 20

// NewQueryToken 生成随机令牌
func NewQueryToken() QueryToken {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("types: crypto/rand failure: " + err.Error())
	}
	return QueryToken(base58.Encode(b))
}
