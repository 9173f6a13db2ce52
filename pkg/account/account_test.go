package account

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func TestRequire(t *testing.T) {
	ctx := context.Background()
	require.ErrorIs(t, Require(ctx, "alice"), ErrNotSigned)
	require.ErrorIs(t, Require(ctx, ""), ErrEmptyAddress)

	ctx = WithSigners(ctx, "alice")
	ctx = WithSigners(ctx, "bob", "alice")
	require.NoError(t, Require(ctx, "alice"))
	require.NoError(t, Require(ctx, "bob"))
	assert.Equal(t, []Address{"alice", "bob"}, Signers(ctx))
}

func TestFromPublicKey_Stable(t *testing.T) {
	priv := newKey(t)
	pub := priv.Public().(ed25519.PublicKey)

	a1, err := FromPublicKey(pub)
	require.NoError(t, err)
	a2, err := FromPublicKey(pub)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	_, err = FromPublicKey(pub[:10])
	require.ErrorIs(t, err, ErrBadPublicKey)
}

func TestCall_SignVerify(t *testing.T) {
	priv := newKey(t)
	c := &Call{Method: "open_position", Args: []string{"alice", "XLM", "5000", "long"}, Nonce: 1}
	c.Sign(priv)

	addr, err := c.Verify()
	require.NoError(t, err)
	want, _ := FromPublicKey(priv.Public().(ed25519.PublicKey))
	assert.Equal(t, want, addr)

	// 篡改参数后验签失败
	c.Args[2] = "50000"
	_, err = c.Verify()
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestCall_DigestFieldBoundaries(t *testing.T) {
	a := &Call{Method: "m", Args: []string{"ab", "c"}}
	b := &Call{Method: "m", Args: []string{"a", "bc"}}
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestAuthorizer_Nonce(t *testing.T) {
	priv := newKey(t)
	auth := NewAuthorizer()

	c1 := &Call{Method: "close_position", Args: []string{"alice"}, Nonce: 1}
	c1.Sign(priv)
	ctx, err := auth.Authorize(context.Background(), c1)
	require.NoError(t, err)
	signer, _ := FromPublicKey(priv.Public().(ed25519.PublicKey))
	require.NoError(t, Require(ctx, signer))

	// 重放
	_, err = auth.Authorize(context.Background(), c1)
	require.ErrorIs(t, err, ErrNonceReplayed)

	c2 := &Call{Method: "close_position", Args: []string{"alice"}, Nonce: 2}
	c2.Sign(priv)
	_, err = auth.Authorize(context.Background(), c2)
	require.NoError(t, err)
}
