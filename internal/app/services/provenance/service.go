package provenance

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/provenance"
	"github.com/R3E-Network/provenance_layer/internal/capability"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/internal/fingerprint"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

// Service maintains the content registry: fingerprints, ownership and trust.
type Service struct {
	ledger   *ledger.Engine
	caps     *capability.Authority
	protocol config.Protocol
	log      *logger.Logger
}

// New creates a provenance service.
func New(engine *ledger.Engine, caps *capability.Authority, protocol config.Protocol, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("provenance")
	}
	return &Service{ledger: engine, caps: caps, protocol: protocol, log: log}
}

// Registration is the input of Register.
type Registration struct {
	Fingerprint string            `json:"fingerprint"`
	Algorithm   string            `json:"algorithm"`
	BlobRef     string            `json:"blob_ref"`
	KeyRef      string            `json:"key_ref"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func contentKey(id string) ledger.Key { return ledger.K(provenance.KindContent, id) }

func fingerprintKey(fp string) ledger.Key { return ledger.K(provenance.KindFingerprint, fp) }

// Register records a new fingerprint owned by sender.
func (s *Service) Register(ctx context.Context, sender string, reg Registration) (provenance.Record, error) {
	alg := fingerprint.Normalize(reg.Algorithm)
	if alg == "" {
		alg = fingerprint.SHA256
	}
	raw, err := fingerprint.Decode(alg, reg.Fingerprint)
	if err != nil {
		return provenance.Record{}, apperrors.ErrInvalidFingerprint.WithMessage("%s", err.Error())
	}
	fp := fingerprint.Canonical(raw)
	id := uuid.NewString()

	var record provenance.Record
	err = s.ledger.Execute(ctx, sender, []ledger.Key{fingerprintKey(fp), contentKey(id)}, func(tx *ledger.Tx) error {
		taken, err := tx.Exists(fingerprintKey(fp))
		if err != nil {
			return err
		}
		if taken {
			return apperrors.ErrDuplicateFingerprint.WithDetails("fingerprint", fp)
		}

		record = provenance.Record{
			ID:           id,
			Fingerprint:  fp,
			Algorithm:    string(alg),
			BlobRef:      strings.TrimSpace(reg.BlobRef),
			KeyRef:       strings.TrimSpace(reg.KeyRef),
			Creator:      tx.Sender(),
			Owner:        tx.Sender(),
			TrustScore:   s.protocol.InitialTrust,
			Transferable: true,
			Metadata:     copyMetadata(reg.Metadata),
			RegisteredAt: tx.Now(),
			UpdatedAt:    tx.Now(),
		}
		if err := tx.Put(contentKey(id), record); err != nil {
			return err
		}
		if err := tx.Put(fingerprintKey(fp), provenance.FingerprintIndex{Fingerprint: fp, ContentID: id}); err != nil {
			return err
		}
		tx.Emit(events.ContentRegistered, id, map[string]string{
			"fingerprint": fp,
			"algorithm":   string(alg),
			"owner":       tx.Sender(),
		})
		return nil
	})
	if err != nil {
		return provenance.Record{}, err
	}

	s.log.WithField("content_id", id).
		WithField("owner", sender).
		WithField("algorithm", alg).
		Info("content registered")
	return record, nil
}

// UpdateMetadata sets one metadata entry. Owner only.
func (s *Service) UpdateMetadata(ctx context.Context, sender, id, key, value string) (provenance.Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return provenance.Record{}, apperrors.InvalidArgument("key", "required")
	}
	return s.mutate(ctx, sender, id, func(tx *ledger.Tx, rec *provenance.Record) error {
		if rec.Owner != tx.Sender() {
			return apperrors.ErrNotOwner
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string)
		}
		rec.Metadata[key] = value
		tx.Emit(events.ContentMetadataUpdated, rec.ID, map[string]string{"key": key})
		return nil
	})
}

// RecordVerification blends a verification score into the trust score. Any
// caller may report.
func (s *Service) RecordVerification(ctx context.Context, sender, id string, score int) (provenance.Record, error) {
	if score < 0 || score > 100 {
		return provenance.Record{}, apperrors.ErrInvalidScore
	}
	var out provenance.Record
	err := s.ledger.Execute(ctx, sender, []ledger.Key{contentKey(id)}, func(tx *ledger.Tx) error {
		rec, err := s.ApplyScore(tx, id, score)
		out = rec
		return err
	})
	return out, err
}

// ApplyScore blends score into a record inside an open transaction. The
// verifier network uses it when a task finalizes.
func (s *Service) ApplyScore(tx *ledger.Tx, id string, score int) (provenance.Record, error) {
	if score < 0 || score > 100 {
		return provenance.Record{}, apperrors.ErrInvalidScore
	}
	rec, err := ledger.Get[provenance.Record](tx, contentKey(id))
	if err != nil {
		return provenance.Record{}, err
	}
	previous := rec.TrustScore
	rec.TrustScore = provenance.BlendTrust(rec.TrustScore, score, s.protocol.TrustBlendNew)
	rec.VerificationCount++
	rec.UpdatedAt = tx.Now()
	if err := tx.Put(contentKey(id), rec); err != nil {
		return provenance.Record{}, err
	}
	tx.Emit(events.ContentVerified, id, map[string]string{
		"score":          strconv.Itoa(score),
		"previous_trust": strconv.Itoa(previous),
		"trust":          strconv.Itoa(rec.TrustScore),
	})
	return rec, nil
}

// SetTransferable toggles whether ownership may move. Owner only.
func (s *Service) SetTransferable(ctx context.Context, sender, id string, transferable bool) (provenance.Record, error) {
	return s.mutate(ctx, sender, id, func(tx *ledger.Tx, rec *provenance.Record) error {
		if rec.Owner != tx.Sender() {
			return apperrors.ErrNotOwner
		}
		rec.Transferable = transferable
		tx.Emit(events.ContentTransferableChange, rec.ID, map[string]string{"transferable": strconv.FormatBool(transferable)})
		return nil
	})
}

// IssueTransfer mints a single-use right for to to take ownership before
// ttl elapses.
func (s *Service) IssueTransfer(ctx context.Context, sender, id, to string, ttl time.Duration) (provenance.PendingTransfer, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return provenance.PendingTransfer{}, apperrors.InvalidArgument("to", "required")
	}
	if to == sender {
		return provenance.PendingTransfer{}, apperrors.InvalidArgument("to", "must differ from the current owner")
	}

	var pending provenance.PendingTransfer
	err := s.ledger.Execute(ctx, sender, []ledger.Key{contentKey(id)}, func(tx *ledger.Tx) error {
		rec, err := ledger.Get[provenance.Record](tx, contentKey(id))
		if err != nil {
			return err
		}
		if rec.Owner != tx.Sender() {
			return apperrors.ErrNotOwner
		}
		if !rec.Transferable {
			return apperrors.ErrNotTransferable
		}
		token, capRec, err := s.caps.Issue(tx, id, capability.ActionTransfer, to, ttl)
		if err != nil {
			return err
		}
		tx.Emit(events.ContentTransferIssued, id, map[string]string{
			"from":       rec.Owner,
			"to":         to,
			"expires_at": capRec.ExpiresAt.Format(time.RFC3339),
		})
		pending = provenance.PendingTransfer{Token: token, ContentID: id, From: rec.Owner, To: to, ExpiresAt: capRec.ExpiresAt}
		return nil
	})
	if err != nil {
		return provenance.PendingTransfer{}, err
	}
	s.log.WithField("content_id", id).WithField("to", to).Info("transfer issued")
	return pending, nil
}

// RedeemTransfer moves ownership to sender and destroys the capability.
func (s *Service) RedeemTransfer(ctx context.Context, sender, token string) (provenance.Record, error) {
	claims, err := s.caps.Parse(token)
	if err != nil {
		return provenance.Record{}, err
	}
	id := claims.EntityID

	var out provenance.Record
	err = s.ledger.Execute(ctx, sender, []ledger.Key{capability.Key(claims.ID), contentKey(id)}, func(tx *ledger.Tx) error {
		capRec, err := capability.Consume(tx, claims, capability.ActionTransfer, id)
		if err != nil {
			return err
		}
		rec, err := ledger.Get[provenance.Record](tx, contentKey(id))
		if err != nil {
			return err
		}
		if !rec.Transferable {
			return apperrors.ErrNotTransferable
		}
		if rec.Owner != capRec.Issuer {
			return apperrors.ErrInvalidCapability.WithDetails("reason", "issuer no longer owns the content")
		}
		from := rec.Owner
		rec.Owner = tx.Sender()
		rec.UpdatedAt = tx.Now()
		if err := tx.Put(contentKey(id), rec); err != nil {
			return err
		}
		tx.Emit(events.ContentTransferred, id, map[string]string{"from": from, "to": rec.Owner})
		out = rec
		return nil
	})
	if err != nil {
		return provenance.Record{}, err
	}
	s.log.WithField("content_id", id).WithField("owner", sender).Info("ownership transferred")
	return out, nil
}

// ForceDisableTransfers is an administrative override.
func (s *Service) ForceDisableTransfers(ctx context.Context, sender, token, id string) (provenance.Record, error) {
	return s.adminMutate(ctx, sender, token, capability.ActionDisableTransfers, id, func(tx *ledger.Tx, rec *provenance.Record) error {
		rec.Transferable = false
		tx.Emit(events.ContentTransferableChange, rec.ID, map[string]string{"transferable": "false", "override": "true"})
		return nil
	})
}

// ForceTrustScore is an administrative override of the trust score.
func (s *Service) ForceTrustScore(ctx context.Context, sender, token, id string, score int) (provenance.Record, error) {
	if score < 0 || score > 100 {
		return provenance.Record{}, apperrors.ErrInvalidScore
	}
	return s.adminMutate(ctx, sender, token, capability.ActionForceTrust, id, func(tx *ledger.Tx, rec *provenance.Record) error {
		previous := rec.TrustScore
		rec.TrustScore = score
		tx.Emit(events.ContentTrustForced, rec.ID, map[string]string{
			"previous_trust": strconv.Itoa(previous),
			"trust":          strconv.Itoa(score),
		})
		return nil
	})
}

func (s *Service) adminMutate(ctx context.Context, sender, token string, action capability.Action, id string, fn func(*ledger.Tx, *provenance.Record) error) (provenance.Record, error) {
	claims, err := s.caps.Parse(token)
	if err != nil {
		return provenance.Record{}, err
	}
	var out provenance.Record
	err = s.ledger.Execute(ctx, sender, []ledger.Key{capability.Key(claims.ID), contentKey(id)}, func(tx *ledger.Tx) error {
		if _, err := capability.Consume(tx, claims, action, id); err != nil {
			return err
		}
		rec, err := ledger.Get[provenance.Record](tx, contentKey(id))
		if err != nil {
			return err
		}
		if err := fn(tx, &rec); err != nil {
			return err
		}
		rec.UpdatedAt = tx.Now()
		out = rec
		return tx.Put(contentKey(id), rec)
	})
	if err != nil {
		return provenance.Record{}, err
	}
	s.log.WithField("content_id", id).WithField("action", action).WithField("admin", sender).Warn("administrative override applied")
	return out, nil
}

func (s *Service) mutate(ctx context.Context, sender, id string, fn func(*ledger.Tx, *provenance.Record) error) (provenance.Record, error) {
	var out provenance.Record
	err := s.ledger.Execute(ctx, sender, []ledger.Key{contentKey(id)}, func(tx *ledger.Tx) error {
		rec, err := ledger.Get[provenance.Record](tx, contentKey(id))
		if err != nil {
			return err
		}
		if err := fn(tx, &rec); err != nil {
			return err
		}
		rec.UpdatedAt = tx.Now()
		out = rec
		return tx.Put(contentKey(id), rec)
	})
	return out, err
}

// Get returns a content record.
func (s *Service) Get(ctx context.Context, id string) (provenance.Record, error) {
	return ledger.Fetch[provenance.Record](ctx, s.ledger, contentKey(id))
}

// GetByFingerprint resolves a hex fingerprint to its record.
func (s *Service) GetByFingerprint(ctx context.Context, fp string) (provenance.Record, error) {
	raw, err := fingerprint.Decode("", fp)
	if err != nil {
		return provenance.Record{}, apperrors.ErrInvalidFingerprint.WithMessage("%s", err.Error())
	}
	idx, err := ledger.Fetch[provenance.FingerprintIndex](ctx, s.ledger, fingerprintKey(fingerprint.Canonical(raw)))
	if err != nil {
		return provenance.Record{}, err
	}
	return s.Get(ctx, idx.ContentID)
}

// IsRegistered reports whether fp has been registered.
func (s *Service) IsRegistered(ctx context.Context, fp string) (bool, error) {
	_, err := s.GetByFingerprint(ctx, fp)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrInvalidFingerprint):
		return false, nil
	}
	return false, err
}

// ListByOwner returns records currently owned by owner.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]provenance.Record, error) {
	return ledger.FetchAll(ctx, s.ledger, provenance.KindContent, func(r provenance.Record) bool {
		return r.Owner == owner
	})
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
