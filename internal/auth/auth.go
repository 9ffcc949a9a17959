// Package auth authenticates callers by Neo wallet signature and issues the
// bearer tokens the HTTP layer turns into a caller identity.
//
// Login is a two step exchange: the client asks for a challenge bound to its
// address, signs the challenge message with the wallet key and posts back
// the public key and signature. A challenge is single use.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"

	"github.com/R3E-Network/provenance_layer/internal/config"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

const (
	challengeCacheSize = 10000
	issuer             = "provenance-layer"
)

// Challenge is handed to a client to sign.
type Challenge struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims is the bearer token payload. Subject carries the caller identity.
type Claims struct {
	AuthMethod string `json:"auth_method"`
	jwt.RegisteredClaims
}

// Session is a successful login.
type Session struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service issues challenges and tokens.
type Service struct {
	secret       []byte
	tokenTTL     time.Duration
	challengeTTL time.Duration
	now          func() time.Time
	log          *logger.Logger

	mu         sync.Mutex
	challenges *lru.Cache[string, Challenge]
}

// New builds the auth service from configuration.
func New(cfg config.AuthConfig, log *logger.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	cache, err := lru.New[string, Challenge](challengeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("challenge cache: %w", err)
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	challengeTTL := cfg.ChallengeTTL
	if challengeTTL <= 0 {
		challengeTTL = 5 * time.Minute
	}
	return &Service{
		secret:       []byte(cfg.JWTSecret),
		tokenTTL:     tokenTTL,
		challengeTTL: challengeTTL,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
		challenges:   cache,
	}, nil
}

// NewChallenge creates a login challenge for address.
func (s *Service) NewChallenge(address string) (Challenge, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Challenge{}, apperrors.InvalidArgument("address", "required")
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, apperrors.Internal("generate nonce", err)
	}
	nonce := hex.EncodeToString(buf)
	ch := Challenge{
		Address:   address,
		Nonce:     nonce,
		Message:   fmt.Sprintf("provenance-layer login\naddress: %s\nnonce: %s", address, nonce),
		ExpiresAt: s.now().Add(s.challengeTTL),
	}
	s.mu.Lock()
	s.challenges.Add(nonce, ch)
	s.mu.Unlock()
	return ch, nil
}

// Login verifies a signed challenge and issues a bearer token. publicKey is
// the hex encoded compressed key; signature is the hex encoded 64 byte r||s
// over SHA-256 of the challenge message.
func (s *Service) Login(address, nonce, publicKey, signature string) (Session, error) {
	s.mu.Lock()
	ch, ok := s.challenges.Get(nonce)
	if ok {
		s.challenges.Remove(nonce)
	}
	s.mu.Unlock()

	if !ok {
		return Session{}, apperrors.ErrUnauthenticated.WithMessage("unknown or used challenge")
	}
	if s.now().After(ch.ExpiresAt) {
		return Session{}, apperrors.ErrUnauthenticated.WithMessage("challenge expired")
	}
	if ch.Address != address {
		return Session{}, apperrors.ErrUnauthenticated.WithMessage("challenge issued for another address")
	}

	pub, err := keys.NewPublicKeyFromString(publicKey)
	if err != nil {
		return Session{}, apperrors.ErrUnauthenticated.WithMessage("invalid public key")
	}
	if pub.Address() != address {
		return Session{}, apperrors.ErrUnauthenticated.WithMessage("public key does not match address")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return Session{}, apperrors.ErrUnauthenticated.WithMessage("invalid signature encoding")
	}
	digest := hash.Sha256([]byte(ch.Message))
	if !pub.Verify(sig, digest.BytesBE()) {
		return Session{}, apperrors.ErrUnauthenticated.WithMessage("signature verification failed")
	}

	session, err := s.IssueToken(address, "neo-signature")
	if err != nil {
		return Session{}, err
	}
	s.log.WithField("address", address).Info("wallet login")
	return session, nil
}

// IssueToken signs a bearer token for subject.
func (s *Service) IssueToken(subject, method string) (Session, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := Claims{
		AuthMethod: method,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, apperrors.Internal("sign token", err)
	}
	return Session{Token: token, Address: subject, ExpiresAt: exp}, nil
}

// Verify validates a bearer token and returns the caller identity.
func (s *Service) Verify(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", apperrors.ErrUnauthenticated.Wrap(err)
	}
	if claims.Subject == "" {
		return "", apperrors.ErrUnauthenticated.WithMessage("token has no subject")
	}
	return claims.Subject, nil
}
