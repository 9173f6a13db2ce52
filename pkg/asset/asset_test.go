package asset

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levpool.com/pkg/account"
)

const usdc account.Address = "USDC"

func TestLedger_MintAndTransfer(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(usdc, "alice", 1000))
	assert.Equal(t, int64(1000), l.TotalSupply(usdc))

	ctx := account.WithSigners(context.Background(), "alice")
	require.NoError(t, l.Transfer(ctx, usdc, "alice", "bob", 400))
	assert.Equal(t, int64(600), l.BalanceOf(usdc, "alice"))
	assert.Equal(t, int64(400), l.BalanceOf(usdc, "bob"))
	assert.Equal(t, int64(1000), l.TotalSupply(usdc))
}

func TestLedger_TransferRequiresSender(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(usdc, "alice", 1000))

	ctx := account.WithSigners(context.Background(), "bob")
	err := l.Transfer(ctx, usdc, "alice", "bob", 10)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(1000), l.BalanceOf(usdc, "alice"))
}

func TestLedger_InsufficientBalanceIsAtomic(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(usdc, "alice", 100))

	ctx := account.WithSigners(context.Background(), "alice")
	err := l.Transfer(ctx, usdc, "alice", "bob", 101)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(100), l.BalanceOf(usdc, "alice"))
	assert.Equal(t, int64(0), l.BalanceOf(usdc, "bob"))

	require.ErrorIs(t, l.Transfer(ctx, usdc, "alice", "bob", 0), ErrInvalidAmount)
	require.ErrorIs(t, l.Mint(usdc, "alice", -1), ErrInvalidAmount)
}

// 双向并发转账不死锁，总量守恒
func TestLedger_ConcurrentTransfers(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(usdc, "alice", 10_000))
	require.NoError(t, l.Mint(usdc, "bob", 10_000))

	ctx := account.WithSigners(context.Background(), "alice", "bob")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.Transfer(ctx, usdc, "alice", "bob", 7)
		}()
		go func() {
			defer wg.Done()
			_ = l.Transfer(ctx, usdc, "bob", "alice", 5)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20_000), l.BalanceOf(usdc, "alice")+l.BalanceOf(usdc, "bob"))
	assert.Equal(t, int64(10_000-700+500), l.BalanceOf(usdc, "alice"))
}
