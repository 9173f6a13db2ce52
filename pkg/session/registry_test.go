package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levpool.com/pkg/account"
	"levpool.com/pkg/pool"
)

func agentKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub
}

func TestRegistry_StartAndExpire(t *testing.T) {
	clock := pool.NewManualClock(100)
	r := NewRegistry(clock, nil, nil)
	ctx := account.WithSigners(context.Background(), "alice")
	key := agentKey(t)

	s, err := r.StartSession(ctx, StartRequest{User: "alice", AgentKey: key, Duration: 1000})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.ID)
	assert.Equal(t, uint64(1100), s.ExpiresAt)

	ok, _ := r.IsSessionValid(ctx, "alice")
	assert.True(t, ok)
	got, ok, _ := r.DelegatedSigner(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, key, got)

	// 过期边界: sequence == expires_at 已失效
	clock.Set(1099)
	ok, _ = r.IsSessionValid(ctx, "alice")
	assert.True(t, ok)
	clock.Set(1100)
	ok, _ = r.IsSessionValid(ctx, "alice")
	assert.False(t, ok)
	_, ok, _ = r.DelegatedSigner(ctx, "alice")
	assert.False(t, ok)
}

func TestRegistry_DurationBounds(t *testing.T) {
	r := NewRegistry(pool.NewManualClock(0), nil, nil)
	ctx := account.WithSigners(context.Background(), "alice")
	key := agentKey(t)

	for _, d := range []uint64{0, MinSessionLedgers - 1, MaxSessionLedgers + 1} {
		_, err := r.StartSession(ctx, StartRequest{User: "alice", AgentKey: key, Duration: d})
		require.ErrorIs(t, err, ErrInvalidSessionDuration, "duration %d", d)
	}
	for _, d := range []uint64{MinSessionLedgers, MaxSessionLedgers} {
		_, err := r.StartSession(ctx, StartRequest{User: "alice", AgentKey: key, Duration: d})
		require.NoError(t, err, "duration %d", d)
	}
}

func TestRegistry_CounterAndInvalidate(t *testing.T) {
	r := NewRegistry(pool.NewManualClock(0), nil, nil)
	ctx := account.WithSigners(context.Background(), "alice")

	_, err := r.StartSession(ctx, StartRequest{User: "alice", AgentKey: agentKey(t), Duration: 1000})
	require.NoError(t, err)
	s2, err := r.StartSession(ctx, StartRequest{User: "alice", AgentKey: agentKey(t), Duration: 1000})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s2.ID)

	id, err := r.InvalidateSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
	ok, _ := r.IsSessionValid(ctx, "alice")
	assert.False(t, ok)

	// 无会话时失效不报错
	id, err = r.InvalidateSession(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, id)

	// 计数器不因失效重置
	s3, err := r.StartSession(ctx, StartRequest{User: "alice", AgentKey: agentKey(t), Duration: 1000})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s3.ID)
}

func TestRegistry_RequiresUserSignature(t *testing.T) {
	r := NewRegistry(pool.NewManualClock(0), nil, nil)
	ctx := account.WithSigners(context.Background(), "mallory")

	_, err := r.StartSession(ctx, StartRequest{User: "alice", AgentKey: agentKey(t), Duration: 1000})
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = r.InvalidateSession(ctx, "alice")
	require.ErrorIs(t, err, ErrUnauthorized)
}

type rejectProofs struct{}

func (rejectProofs) Verify(context.Context, account.Address, [32]byte, []byte) error {
	return errors.New("pairing check failed")
}

func TestRegistry_ProofRejected(t *testing.T) {
	r := NewRegistry(pool.NewManualClock(0), rejectProofs{}, nil)
	ctx := account.WithSigners(context.Background(), "alice")

	_, err := r.StartSession(ctx, StartRequest{User: "alice", AgentKey: agentKey(t), Duration: 1000})
	require.ErrorIs(t, err, ErrProofVerificationFailed)
	ok, _ := r.IsSessionValid(ctx, "alice")
	assert.False(t, ok)
}
