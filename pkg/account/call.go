// 文件: pkg/account/call.go
// 签名调用信封
//
// 客户端把 (方法名, 参数, nonce) 做 BLAKE3 摘要后用 ed25519 签名，
// 服务端 Authorize 验签并把签名者地址放进 ctx

package account

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"sync"

	"lukechampine.com/blake3"
)

// digestDomain 摘要域分隔符
const digestDomain = "levpool/call/v1"

// Call 一次签名调用
type Call struct {
	Method    string
	Args      []string
	Nonce     uint64
	PublicKey ed25519.PublicKey
	Signature []byte
}

// Digest 计算调用摘要 (BLAKE3-256)
//
// 每个字段带长度前缀，避免 ("ab","c") 与 ("a","bc") 碰撞
func (c *Call) Digest() [32]byte {
	h := blake3.New(32, nil)
	writeField(h, []byte(digestDomain))
	writeField(h, []byte(c.Method))
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(c.Args)))
	h.Write(n[:])
	for _, a := range c.Args {
		writeField(h, []byte(a))
	}
	binary.BigEndian.PutUint64(n[:], c.Nonce)
	h.Write(n[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeField(h *blake3.Hasher, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// Sign 用私钥签名调用，同时填入公钥
func (c *Call) Sign(priv ed25519.PrivateKey) {
	c.PublicKey = priv.Public().(ed25519.PublicKey)
	d := c.Digest()
	c.Signature = ed25519.Sign(priv, d[:])
}

// Verify 验签，返回签名者地址
func (c *Call) Verify() (Address, error) {
	addr, err := FromPublicKey(c.PublicKey)
	if err != nil {
		return "", err
	}
	d := c.Digest()
	if !ed25519.Verify(c.PublicKey, d[:], c.Signature) {
		return "", fmt.Errorf("%w: method=%s signer=%s", ErrBadSignature, c.Method, addr)
	}
	return addr, nil
}

// =============================================================================
// Authorizer
// =============================================================================

// Authorizer 验签 + nonce 防重放
type Authorizer struct {
	mu     sync.Mutex
	nonces map[Address]uint64 // 每个签名者最近使用的 nonce
}

// NewAuthorizer 创建验签器
func NewAuthorizer() *Authorizer {
	return &Authorizer{nonces: make(map[Address]uint64)}
}

// Authorize 验证一组签名调用，返回携带签名者的 ctx
//
// nonce 必须严格递增；任何一个调用失败则整体失败，不消耗 nonce
func (a *Authorizer) Authorize(ctx context.Context, calls ...*Call) (context.Context, error) {
	signers := make([]Address, 0, len(calls))
	next := make(map[Address]uint64, len(calls))

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range calls {
		addr, err := c.Verify()
		if err != nil {
			return ctx, err
		}
		last, seen := next[addr]
		if !seen {
			last = a.nonces[addr]
		}
		if c.Nonce <= last {
			return ctx, fmt.Errorf("%w: signer=%s nonce=%d last=%d", ErrNonceReplayed, addr, c.Nonce, last)
		}
		next[addr] = c.Nonce
		signers = append(signers, addr)
	}

	for addr, n := range next {
		a.nonces[addr] = n
	}
	return WithSigners(ctx, signers...), nil
}
