// 文件: pkg/account/account.go
// 账户地址与调用签名上下文
//
// 一次调用由哪些账户签名，通过 context.Context 向下传递:
// - 入口层 (Authorize) 验证签名后把签名者写入 ctx
// - 业务层 (Require) 只检查 ctx 中是否存在目标账户

package account

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrNotSigned     = errors.New("account has not signed the call")
	ErrEmptyAddress  = errors.New("empty account address")
	ErrBadPublicKey  = errors.New("invalid ed25519 public key")
	ErrBadSignature  = errors.New("signature verification failed")
	ErrNonceReplayed = errors.New("call nonce already used")
)

// Address 账户地址
type Address string

// String 实现 fmt.Stringer
func (a Address) String() string { return string(a) }

// IsZero 是否空地址
func (a Address) IsZero() bool { return a == "" }

// keyPrefix 公钥派生地址的前缀
const keyPrefix = "G"

// FromPublicKey 由 ed25519 公钥派生账户地址
//
// 同一个公钥永远得到同一个地址，会话授权用它把委托公钥映射成签名账户
func FromPublicKey(pub ed25519.PublicKey) (Address, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: size=%d", ErrBadPublicKey, len(pub))
	}
	return Address(keyPrefix + hex.EncodeToString(pub)), nil
}

// =============================================================================
// 签名上下文
// =============================================================================

type signersKey struct{}

// WithSigners 返回携带签名账户集合的 ctx (在已有签名者基础上追加)
func WithSigners(ctx context.Context, addrs ...Address) context.Context {
	prev := Signers(ctx)
	merged := make([]Address, 0, len(prev)+len(addrs))
	merged = append(merged, prev...)
	for _, a := range addrs {
		if a.IsZero() || slices.Contains(merged, a) {
			continue
		}
		merged = append(merged, a)
	}
	return context.WithValue(ctx, signersKey{}, merged)
}

// Signers 返回 ctx 中的签名账户 (副本)
func Signers(ctx context.Context) []Address {
	v, _ := ctx.Value(signersKey{}).([]Address)
	return slices.Clone(v)
}

// HasSigned 账户是否签名了本次调用
func HasSigned(ctx context.Context, addr Address) bool {
	v, _ := ctx.Value(signersKey{}).([]Address)
	return slices.Contains(v, addr)
}

// Require 要求 addr 签名了本次调用
func Require(ctx context.Context, addr Address) error {
	if addr.IsZero() {
		return ErrEmptyAddress
	}
	if !HasSigned(ctx, addr) {
		return fmt.Errorf("%w: %s", ErrNotSigned, addr)
	}
	return nil
}
