// Package capability issues and consumes signed, single-use rights such as a
// pending ownership transfer or an administrative override. A capability is
// an HS256 JWT naming the entity, the permitted action, the holder and an
// expiry; its jti addresses a ledger object that exists until the capability
// is consumed.
package capability

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
)

// Kind is the ledger kind of outstanding capabilities.
const Kind = "capability"

// AnyEntity scopes a capability to every entity of its action.
const AnyEntity = "*"

var hkdfSalt = []byte("provenance-capability")

// Action is the right a capability grants.
type Action string

const (
	ActionTransfer         Action = "content.transfer"
	ActionDisableTransfers Action = "content.disable_transfers"
	ActionForceTrust       Action = "content.force_trust"
	ActionSlash            Action = "verifier.slash"
	ActionOverrideVerdict  Action = "detection.override"
	ActionLockdown         Action = "policy.lockdown"
)

// AdminActions are the actions an administrator may mint.
var AdminActions = []Action{
	ActionDisableTransfers,
	ActionForceTrust,
	ActionSlash,
	ActionOverrideVerdict,
	ActionLockdown,
}

// IsAdminAction reports whether a is an administrative action.
func IsAdminAction(a Action) bool {
	for _, candidate := range AdminActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// Claims is the signed payload.
type Claims struct {
	EntityID string `json:"ent"`
	Action   Action `json:"act"`
	Holder   string `json:"hld"`
	jwt.RegisteredClaims
}

// Record is the ledger object backing an outstanding capability.
type Record struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Action    Action    `json:"action"`
	Holder    string    `json:"holder"`
	Issuer    string    `json:"issuer"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Key returns the ledger key of a capability id.
func Key(id string) ledger.Key { return ledger.K(Kind, id) }

// Authority signs and verifies capabilities.
type Authority struct {
	key []byte
}

// NewAuthority derives the signing key from secret.
func NewAuthority(secret []byte) (*Authority, error) {
	if len(secret) == 0 {
		return nil, errors.New("capability secret is required")
	}
	reader := hkdf.New(sha256.New, secret, hkdfSalt, []byte("hs256-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive capability key: %w", err)
	}
	return &Authority{key: key}, nil
}

// Issue mints a capability inside tx. The issuer is the transaction sender.
func (a *Authority) Issue(tx *ledger.Tx, entityID string, action Action, holder string, ttl time.Duration) (string, Record, error) {
	if holder == "" {
		return "", Record{}, apperrors.InvalidArgument("holder", "required")
	}
	if ttl <= 0 {
		return "", Record{}, apperrors.InvalidArgument("ttl", "must be positive")
	}
	rec := Record{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		Action:    action,
		Holder:    holder,
		Issuer:    tx.Sender(),
		IssuedAt:  tx.Now(),
		ExpiresAt: tx.Now().Add(ttl),
	}
	claims := Claims{
		EntityID: entityID,
		Action:   action,
		Holder:   holder,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.ID,
			Issuer:    rec.Issuer,
			IssuedAt:  jwt.NewNumericDate(rec.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", Record{}, apperrors.Internal("sign capability", err)
	}
	if err := tx.Put(Key(rec.ID), rec); err != nil {
		return "", Record{}, err
	}
	tx.Emit(events.CapabilityIssued, entityID, map[string]string{
		"capability_id": rec.ID,
		"action":        string(action),
		"holder":        holder,
	})
	return token, rec, nil
}

// Parse verifies the signature and returns the claims. Expiry is checked at
// consumption against the transaction clock, not here.
func (a *Authority) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, apperrors.ErrInvalidCapability.Wrap(err)
	}
	if claims.ID == "" || claims.Action == "" || claims.Holder == "" {
		return nil, apperrors.ErrInvalidCapability.WithDetails("reason", "incomplete claims")
	}
	return claims, nil
}

// Consume validates claims for action on entityID and destroys the backing
// record inside tx. The record key must be part of the transaction's
// declared keys so concurrent redemptions serialise.
func Consume(tx *ledger.Tx, claims *Claims, action Action, entityID string) (Record, error) {
	if claims.Action != action {
		return Record{}, apperrors.ErrInvalidCapability.WithDetails("reason", "action mismatch")
	}
	if claims.Holder != tx.Sender() {
		return Record{}, apperrors.ErrNotAuthorized.WithMessage("capability is held by another identity")
	}
	if claims.EntityID != entityID && claims.EntityID != AnyEntity {
		return Record{}, apperrors.ErrInvalidCapability.WithDetails("reason", "entity mismatch")
	}

	rec, found, err := ledger.Lookup[Record](tx, Key(claims.ID))
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, apperrors.ErrInvalidCapability.WithDetails("reason", "already used or unknown")
	}
	if rec.Holder != claims.Holder || rec.Action != claims.Action || rec.EntityID != claims.EntityID {
		return Record{}, apperrors.ErrInvalidCapability.WithDetails("reason", "record mismatch")
	}
	if tx.Now().After(rec.ExpiresAt) {
		return Record{}, apperrors.ErrInvalidCapability.WithDetails("reason", "expired")
	}

	if err := tx.Delete(Key(rec.ID)); err != nil {
		return Record{}, err
	}
	tx.Emit(events.CapabilityConsumed, entityID, map[string]string{
		"capability_id": rec.ID,
		"action":        string(action),
	})
	return rec, nil
}
