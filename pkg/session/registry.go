// 文件: pkg/session/registry.go
// 代理会话注册表
//
// 用户授权一个代理公钥在一段账本区间内代为签名开仓 / 平仓:
// - StartSession: 用户签名，时长 [720, 17280] 个账本，覆盖旧会话
// - InvalidateSession: 用户签名，立即失效
// - IsSessionValid / DelegatedSigner: 当前账本 < 过期账本 时有效

package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"levpool.com/pkg/account"
)

const (
	MinSessionLedgers = 720   // ~1 小时
	MaxSessionLedgers = 17280 // ~24 小时
)

var (
	ErrInvalidSessionDuration  = errors.New("invalid session duration")
	ErrProofVerificationFailed = errors.New("session proof verification failed")
	ErrBadAgentKey             = errors.New("invalid agent public key")
	ErrUnauthorized            = errors.New("session change not signed by user")
)

// Clock 账本序号
type Clock interface {
	Sequence() uint64
}

// ProofVerifier 开启会话时的身份证明校验
//
// 证明方案由部署方提供，注册表只关心通过与否
type ProofVerifier interface {
	Verify(ctx context.Context, user account.Address, commitment [32]byte, proof []byte) error
}

// AcceptAll 不做校验的 ProofVerifier
type AcceptAll struct{}

func (AcceptAll) Verify(context.Context, account.Address, [32]byte, []byte) error { return nil }

// Session 代理会话
type Session struct {
	ID         uint64 // 每个用户单调递增
	AgentKey   ed25519.PublicKey
	Commitment [32]byte
	CreatedAt  uint64
	ExpiresAt  uint64
	Nonce      uint64
}

// ValidAt 在账本 seq 时是否有效
func (s *Session) ValidAt(seq uint64) bool { return seq < s.ExpiresAt }

// StartRequest 开启会话参数
type StartRequest struct {
	User       account.Address
	AgentKey   ed25519.PublicKey
	Commitment [32]byte
	Duration   uint64 // 账本数
	Proof      []byte
}

// Registry 会话注册表
type Registry struct {
	clock    Clock
	verifier ProofVerifier
	log      *zap.Logger

	mu       sync.RWMutex
	sessions map[account.Address]*Session
	counters map[account.Address]uint64
}

// NewRegistry 创建注册表，verifier 为 nil 时不校验证明
func NewRegistry(clock Clock, verifier ProofVerifier, logger *zap.Logger) *Registry {
	if verifier == nil {
		verifier = AcceptAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clock:    clock,
		verifier: verifier,
		log:      logger.Named("session"),
		sessions: make(map[account.Address]*Session),
		counters: make(map[account.Address]uint64),
	}
}

// StartSession 开启 (或替换) 会话
func (r *Registry) StartSession(ctx context.Context, req StartRequest) (Session, error) {
	if err := account.Require(ctx, req.User); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if req.Duration < MinSessionLedgers || req.Duration > MaxSessionLedgers {
		return Session{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidSessionDuration, req.Duration, MinSessionLedgers, MaxSessionLedgers)
	}
	if len(req.AgentKey) != ed25519.PublicKeySize {
		return Session{}, fmt.Errorf("%w: size=%d", ErrBadAgentKey, len(req.AgentKey))
	}
	if err := r.verifier.Verify(ctx, req.User, req.Commitment, req.Proof); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrProofVerificationFailed, err)
	}

	now := r.clock.Sequence()

	r.mu.Lock()
	r.counters[req.User]++
	s := &Session{
		ID:         r.counters[req.User],
		AgentKey:   slices.Clone(req.AgentKey),
		Commitment: req.Commitment,
		CreatedAt:  now,
		ExpiresAt:  now + req.Duration,
	}
	r.sessions[req.User] = s
	out := *s
	r.mu.Unlock()

	r.log.Info("[Session] started",
		zap.String("user", req.User.String()),
		zap.Uint64("session_id", out.ID),
		zap.Uint64("expires_at", out.ExpiresAt))
	return out, nil
}

// InvalidateSession 使会话失效，返回被失效的会话编号 (无会话为 0)
func (r *Registry) InvalidateSession(ctx context.Context, user account.Address) (uint64, error) {
	if err := account.Require(ctx, user); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	r.mu.Lock()
	var id uint64
	if s, ok := r.sessions[user]; ok {
		id = s.ID
		delete(r.sessions, user)
	}
	r.mu.Unlock()

	r.log.Info("[Session] invalidated", zap.String("user", user.String()), zap.Uint64("session_id", id))
	return id, nil
}

// IsSessionValid 会话是否有效
func (r *Registry) IsSessionValid(ctx context.Context, user account.Address) (bool, error) {
	s, ok := r.Session(user)
	return ok && s.ValidAt(r.clock.Sequence()), nil
}

// DelegatedSigner 有效会话的代理公钥
func (r *Registry) DelegatedSigner(ctx context.Context, user account.Address) (ed25519.PublicKey, bool, error) {
	s, ok := r.Session(user)
	if !ok || !s.ValidAt(r.clock.Sequence()) {
		return nil, false, nil
	}
	return s.AgentKey, true, nil
}

// Session 返回会话副本 (不论是否过期)
func (r *Registry) Session(user account.Address) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[user]
	if !ok {
		return Session{}, false
	}
	out := *s
	out.AgentKey = slices.Clone(s.AgentKey)
	return out, true
}
