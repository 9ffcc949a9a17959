package auth

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance_layer/internal/config"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour, ChallengeTTL: time.Minute}, logger.Discard())
	require.NoError(t, err)
	return svc
}

func TestWalletLogin(t *testing.T) {
	svc := newService(t)
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	addr := priv.Address()

	ch, err := svc.NewChallenge(addr)
	require.NoError(t, err)
	sig := hex.EncodeToString(priv.Sign([]byte(ch.Message)))
	pub := hex.EncodeToString(priv.PublicKey().Bytes())

	session, err := svc.Login(addr, ch.Nonce, pub, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, session.Address)

	subject, err := svc.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, addr, subject)

	// challenges are single use
	_, err = svc.Login(addr, ch.Nonce, pub, sig)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestLoginRejections(t *testing.T) {
	svc := newService(t)
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	other, err := keys.NewPrivateKey()
	require.NoError(t, err)
	addr := priv.Address()
	pub := hex.EncodeToString(priv.PublicKey().Bytes())

	t.Run("wrong signer", func(t *testing.T) {
		ch, err := svc.NewChallenge(addr)
		require.NoError(t, err)
		sig := hex.EncodeToString(other.Sign([]byte(ch.Message)))
		_, err = svc.Login(addr, ch.Nonce, pub, sig)
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	t.Run("key for another address", func(t *testing.T) {
		ch, err := svc.NewChallenge(addr)
		require.NoError(t, err)
		sig := hex.EncodeToString(other.Sign([]byte(ch.Message)))
		_, err = svc.Login(addr, ch.Nonce, hex.EncodeToString(other.PublicKey().Bytes()), sig)
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	t.Run("expired challenge", func(t *testing.T) {
		ch, err := svc.NewChallenge(addr)
		require.NoError(t, err)
		sig := hex.EncodeToString(priv.Sign([]byte(ch.Message)))
		svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
		defer func() { svc.now = func() time.Time { return time.Now().UTC() } }()
		_, err = svc.Login(addr, ch.Nonce, pub, sig)
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	t.Run("unknown nonce", func(t *testing.T) {
		_, err := svc.Login(addr, "deadbeef", pub, "00")
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	_, err = svc.NewChallenge(" ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	svc := newService(t)
	foreign, err := New(config.AuthConfig{JWTSecret: "other-secret"}, logger.Discard())
	require.NoError(t, err)

	session, err := foreign.IssueToken("alice", "test")
	require.NoError(t, err)
	_, err = svc.Verify(session.Token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	session, err = svc.IssueToken("alice", "test")
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	_, err = svc.Verify(session.Token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	_, err = New(config.AuthConfig{}, nil)
	assert.Error(t, err)
}
