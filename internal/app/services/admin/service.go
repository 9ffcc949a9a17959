// Package admin mints administrative capabilities for configured operators
// and housekeeps the outstanding ones.
package admin

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/capability"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

const (
	DefaultTTL = 15 * time.Minute
	MaxTTL     = 24 * time.Hour
)

// Service issues admin capabilities.
type Service struct {
	ledger *ledger.Engine
	caps   *capability.Authority
	admins map[string]bool
	log    *logger.Logger
}

// New creates the admin service for the given operator identities.
func New(engine *ledger.Engine, caps *capability.Authority, admins []string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	set := make(map[string]bool, len(admins))
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			set[a] = true
		}
	}
	return &Service{ledger: engine, caps: caps, admins: set, log: log}
}

// IsAdmin reports whether addr is a configured administrator.
func (s *Service) IsAdmin(addr string) bool { return s.admins[addr] }

// IssueCapability mints a single-use admin capability. The holder defaults
// to the caller and must itself be an administrator.
func (s *Service) IssueCapability(ctx context.Context, sender string, action capability.Action, entityID, holder string, ttl time.Duration) (string, capability.Record, error) {
	if !s.IsAdmin(sender) {
		return "", capability.Record{}, apperrors.ErrNotAuthorized
	}
	if !capability.IsAdminAction(action) {
		return "", capability.Record{}, apperrors.InvalidArgument("action", "not an administrative action")
	}
	if strings.TrimSpace(entityID) == "" {
		return "", capability.Record{}, apperrors.InvalidArgument("entity_id", "required")
	}
	if holder == "" {
		holder = sender
	}
	if !s.IsAdmin(holder) {
		return "", capability.Record{}, apperrors.InvalidArgument("holder", "must be an administrator")
	}
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < 0 || ttl > MaxTTL:
		return "", capability.Record{}, apperrors.InvalidArgument("ttl", "must be within (0, 24h]")
	}

	var (
		token string
		rec   capability.Record
	)
	err := s.ledger.Execute(ctx, sender, nil, func(tx *ledger.Tx) error {
		var err error
		token, rec, err = s.caps.Issue(tx, entityID, action, holder, ttl)
		return err
	})
	if err != nil {
		return "", capability.Record{}, err
	}
	s.log.WithField("capability_id", rec.ID).
		WithField("action", action).
		WithField("entity_id", entityID).
		WithField("holder", holder).
		Info("admin capability issued")
	return token, rec, nil
}

// RevokeCapability destroys an outstanding capability before use.
func (s *Service) RevokeCapability(ctx context.Context, sender, id string) error {
	if !s.IsAdmin(sender) {
		return apperrors.ErrNotAuthorized
	}
	return s.ledger.Execute(ctx, sender, []ledger.Key{capability.Key(id)}, func(tx *ledger.Tx) error {
		rec, err := ledger.Get[capability.Record](tx, capability.Key(id))
		if err != nil {
			return err
		}
		tx.Emit(events.CapabilityRevoked, rec.EntityID, map[string]string{
			"capability_id": id,
			"action":        string(rec.Action),
		})
		return tx.Delete(capability.Key(id))
	})
}

// ListCapabilities returns outstanding capabilities, oldest first.
func (s *Service) ListCapabilities(ctx context.Context) ([]capability.Record, error) {
	recs, err := ledger.FetchAll[capability.Record](ctx, s.ledger, capability.Kind, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].IssuedAt.Before(recs[j].IssuedAt) })
	return recs, nil
}

// PurgeExpired deletes capability records whose expiry has passed and
// returns how many were removed. A record consumed concurrently is skipped.
func (s *Service) PurgeExpired(ctx context.Context, operator string) (int, error) {
	now := s.ledger.Now()
	expired, err := ledger.FetchAll(ctx, s.ledger, capability.Kind, func(r capability.Record) bool {
		return now.After(r.ExpiresAt)
	})
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, rec := range expired {
		key := capability.Key(rec.ID)
		deleted := false
		err := s.ledger.Execute(ctx, operator, []ledger.Key{key}, func(tx *ledger.Tx) error {
			current, found, err := ledger.Lookup[capability.Record](tx, key)
			if err != nil || !found {
				return err
			}
			if !tx.Now().After(current.ExpiresAt) {
				return nil
			}
			deleted = true
			return tx.Delete(key)
		})
		if err != nil {
			return purged, err
		}
		if deleted {
			purged++
		}
	}
	return purged, nil
}
