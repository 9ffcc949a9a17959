package access

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/access"
	"github.com/R3E-Network/provenance_layer/internal/app/domain/provenance"
	"github.com/R3E-Network/provenance_layer/internal/capability"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

// Service gates release of content key material behind access policies.
type Service struct {
	ledger   *ledger.Engine
	caps     *capability.Authority
	protocol config.Protocol
	log      *logger.Logger
}

// New creates an access control service. protocol supplies the reputation
// decay applied when conditions read an oracle's reputation.
func New(engine *ledger.Engine, caps *capability.Authority, protocol config.Protocol, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("access")
	}
	return &Service{ledger: engine, caps: caps, protocol: protocol, log: log}
}

func policyKey(id string) ledger.Key       { return ledger.K(access.KindPolicy, id) }
func indexKey(contentID string) ledger.Key { return ledger.K(access.KindPolicyIndex, contentID) }
func grantKey(id string) ledger.Key        { return ledger.K(access.KindGrant, id) }
func requestKey(id string) ledger.Key      { return ledger.K(access.KindRequest, id) }
func contentKey(id string) ledger.Key      { return ledger.K(provenance.KindContent, id) }

// CreatePolicy attaches the single access policy of a content record. Only
// the content owner may create it.
func (s *Service) CreatePolicy(ctx context.Context, sender, contentID, keyRef, algorithm string, isPublic bool) (access.Policy, error) {
	id := uuid.NewString()
	var out access.Policy
	err := s.ledger.Execute(ctx, sender, []ledger.Key{indexKey(contentID), policyKey(id)}, func(tx *ledger.Tx) error {
		rec, err := ledger.Get[provenance.Record](tx, contentKey(contentID))
		if err != nil {
			return err
		}
		if rec.Owner != tx.Sender() {
			return apperrors.ErrNotOwner
		}
		exists, err := tx.Exists(indexKey(contentID))
		if err != nil {
			return err
		}
		if exists {
			return apperrors.ErrAlreadyRegistered.WithMessage("content %s already has a policy", contentID)
		}
		if keyRef == "" {
			keyRef = rec.KeyRef
		}
		out = access.Policy{
			ID:         id,
			ContentID:  contentID,
			Owner:      tx.Sender(),
			KeyRef:     keyRef,
			Algorithm:  strings.TrimSpace(algorithm),
			IsPublic:   isPublic,
			Admins:     map[string]bool{},
			Viewers:    map[string]bool{},
			Verifiers:  map[string]bool{},
			Conditions: map[string]access.Condition{},
			CreatedAt:  tx.Now(),
			UpdatedAt:  tx.Now(),
		}
		if err := tx.Put(indexKey(contentID), access.PolicyIndex{ContentID: contentID, PolicyID: id}); err != nil {
			return err
		}
		tx.Emit(events.PolicyCreated, id, map[string]string{
			"content_id": contentID,
			"is_public":  strconv.FormatBool(isPublic),
		})
		return tx.Put(policyKey(id), out)
	})
	if err != nil {
		return access.Policy{}, err
	}
	s.log.WithField("policy_id", id).WithField("content_id", contentID).Info("access policy created")
	return out, nil
}

// GrantRequest describes a grant to issue.
type GrantRequest struct {
	Grantee     string
	Role        string
	ExpiresAt   time.Time
	KeyFragment string
}

// GrantAccess issues a grant. The owner and admin members may grant.
func (s *Service) GrantAccess(ctx context.Context, sender, policyID string, req GrantRequest) (access.Grant, error) {
	role, ok := access.ParseRole(req.Role)
	if !ok {
		return access.Grant{}, apperrors.ErrInvalidRole.WithDetails("role", req.Role)
	}
	if strings.TrimSpace(req.Grantee) == "" {
		return access.Grant{}, apperrors.InvalidArgument("grantee", "required")
	}
	id := uuid.NewString()
	var out access.Grant
	err := s.ledger.Execute(ctx, sender, []ledger.Key{policyKey(policyID), grantKey(id)}, func(tx *ledger.Tx) error {
		policy, err := ledger.Get[access.Policy](tx, policyKey(policyID))
		if err != nil {
			return err
		}
		if !policy.CanManage(tx.Sender()) {
			return apperrors.ErrNotAuthorized
		}
		out, err = s.issueGrant(tx, &policy, id, req.Grantee, role, req.ExpiresAt, req.KeyFragment)
		return err
	})
	if err != nil {
		return access.Grant{}, err
	}
	s.log.WithField("policy_id", policyID).WithField("grantee", req.Grantee).WithField("role", role).Info("access granted")
	return out, nil
}

func (s *Service) issueGrant(tx *ledger.Tx, policy *access.Policy, id, grantee string, role access.Role, expiresAt time.Time, fragment string) (access.Grant, error) {
	if !expiresAt.IsZero() && !expiresAt.After(tx.Now()) {
		return access.Grant{}, apperrors.InvalidArgument("expires_at", "must be in the future")
	}
	grant := access.Grant{
		ID:          id,
		PolicyID:    policy.ID,
		Grantee:     grantee,
		Granter:     tx.Sender(),
		Role:        role,
		KeyFragment: fragment,
		IssuedAt:    tx.Now(),
		ExpiresAt:   expiresAt.UTC(),
	}
	if expiresAt.IsZero() {
		grant.ExpiresAt = time.Time{}
	}
	policy.AddMember(role, grantee)
	policy.UpdatedAt = tx.Now()
	if err := tx.Put(policyKey(policy.ID), *policy); err != nil {
		return access.Grant{}, err
	}
	tx.Emit(events.GrantIssued, policy.ID, map[string]string{
		"grant_id": id,
		"grantee":  grantee,
		"role":     string(role),
	})
	return grant, tx.Put(grantKey(id), grant)
}

// RevokeAccess revokes a grant and drops the grantee from the role set. The
// policy owner and the original granter may revoke.
func (s *Service) RevokeAccess(ctx context.Context, sender, grantID string) (access.Grant, error) {
	current, err := ledger.Fetch[access.Grant](ctx, s.ledger, grantKey(grantID))
	if err != nil {
		return access.Grant{}, err
	}
	var out access.Grant
	err = s.ledger.Execute(ctx, sender, []ledger.Key{grantKey(grantID), policyKey(current.PolicyID)}, func(tx *ledger.Tx) error {
		grant, err := ledger.Get[access.Grant](tx, grantKey(grantID))
		if err != nil {
			return err
		}
		policy, err := ledger.Get[access.Policy](tx, policyKey(grant.PolicyID))
		if err != nil {
			return err
		}
		if tx.Sender() != policy.Owner && tx.Sender() != grant.Granter {
			return apperrors.ErrNotAuthorized
		}
		if grant.Revoked {
			return apperrors.ErrAlreadyRevoked
		}
		grant.Revoked = true
		grant.RevokedAt = tx.Now()
		policy.RemoveMember(grant.Role, grant.Grantee)
		policy.UpdatedAt = tx.Now()
		if err := tx.Put(policyKey(policy.ID), policy); err != nil {
			return err
		}
		tx.Emit(events.GrantRevoked, policy.ID, map[string]string{
			"grant_id": grantID,
			"grantee":  grant.Grantee,
			"role":     string(grant.Role),
		})
		out = grant
		return tx.Put(grantKey(grantID), grant)
	})
	return out, err
}

// AddCondition sets the condition of its type, replacing any earlier one.
// Owner only.
func (s *Service) AddCondition(ctx context.Context, sender, policyID string, cond access.Condition) (access.Policy, error) {
	cond.Type = strings.ToLower(strings.TrimSpace(cond.Type))
	if err := ValidateCondition(cond); err != nil {
		return access.Policy{}, apperrors.InvalidArgument("condition", err.Error())
	}
	return s.ownerMutate(ctx, sender, policyID, func(tx *ledger.Tx, p *access.Policy) error {
		cond.AddedAt = tx.Now()
		if p.Conditions == nil {
			p.Conditions = map[string]access.Condition{}
		}
		p.Conditions[cond.Type] = cond
		tx.Emit(events.ConditionAdded, p.ID, map[string]string{"type": cond.Type, "parameter": cond.Parameter})
		return nil
	})
}

// RemoveCondition drops the condition of the given type. Owner only.
func (s *Service) RemoveCondition(ctx context.Context, sender, policyID, condType string) (access.Policy, error) {
	condType = strings.ToLower(strings.TrimSpace(condType))
	return s.ownerMutate(ctx, sender, policyID, func(tx *ledger.Tx, p *access.Policy) error {
		if _, ok := p.Conditions[condType]; !ok {
			return apperrors.NotFound("condition", condType)
		}
		delete(p.Conditions, condType)
		tx.Emit(events.ConditionRemoved, p.ID, map[string]string{"type": condType})
		return nil
	})
}

// UpdatePrivacySettings changes visibility and the verification requirement.
// Owner only. Making a policy public lifts a lockdown.
func (s *Service) UpdatePrivacySettings(ctx context.Context, sender, policyID string, isPublic, requiresVerification bool) (access.Policy, error) {
	return s.ownerMutate(ctx, sender, policyID, func(tx *ledger.Tx, p *access.Policy) error {
		p.IsPublic = isPublic
		p.RequiresVerification = requiresVerification
		if isPublic {
			p.LockedDown = false
		}
		tx.Emit(events.PrivacyUpdated, p.ID, map[string]string{
			"is_public":             strconv.FormatBool(isPublic),
			"requires_verification": strconv.FormatBool(requiresVerification),
		})
		return nil
	})
}

// SetAccessWindow bounds when grant holders may decrypt. A zero end leaves
// the window open ended. Owner only.
func (s *Service) SetAccessWindow(ctx context.Context, sender, policyID string, start, end time.Time) (access.Policy, error) {
	if !end.IsZero() && !end.After(start) {
		return access.Policy{}, apperrors.ErrInvalidTimeWindow
	}
	return s.ownerMutate(ctx, sender, policyID, func(tx *ledger.Tx, p *access.Policy) error {
		p.WindowStart = start.UTC()
		p.WindowEnd = end.UTC()
		if start.IsZero() {
			p.WindowStart = time.Time{}
		}
		if end.IsZero() {
			p.WindowEnd = time.Time{}
		}
		tx.Emit(events.AccessWindowSet, p.ID, map[string]string{
			"start": formatTime(p.WindowStart),
			"end":   formatTime(p.WindowEnd),
		})
		return nil
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// RequestAccess files a pending request for a role. Anyone may ask.
func (s *Service) RequestAccess(ctx context.Context, sender, policyID, role, justification string) (access.Request, error) {
	r, ok := access.ParseRole(role)
	if !ok {
		return access.Request{}, apperrors.ErrInvalidRole.WithDetails("role", role)
	}
	id := uuid.NewString()
	var out access.Request
	err := s.ledger.Execute(ctx, sender, []ledger.Key{requestKey(id)}, func(tx *ledger.Tx) error {
		policy, err := ledger.Get[access.Policy](tx, policyKey(policyID))
		if err != nil {
			return err
		}
		out = access.Request{
			ID:            id,
			PolicyID:      policyID,
			Requester:     tx.Sender(),
			Role:          r,
			Justification: strings.TrimSpace(justification),
			Status:        access.RequestPending,
			CreatedAt:     tx.Now(),
		}
		tx.Emit(events.AccessRequested, policyID, map[string]string{
			"request_id": id,
			"requester":  tx.Sender(),
			"role":       string(r),
			"owner":      policy.Owner,
		})
		return tx.Put(requestKey(id), out)
	})
	return out, err
}

// Resolution approves or denies a pending request.
type Resolution struct {
	Approve     bool
	ExpiresAt   time.Time
	KeyFragment string
}

// ResolveRequest settles a pending request. Approval issues a grant. The
// owner and admin members may resolve.
func (s *Service) ResolveRequest(ctx context.Context, sender, requestID string, res Resolution) (access.Request, error) {
	current, err := ledger.Fetch[access.Request](ctx, s.ledger, requestKey(requestID))
	if err != nil {
		return access.Request{}, err
	}
	grantID := uuid.NewString()
	var out access.Request
	keys := []ledger.Key{requestKey(requestID), policyKey(current.PolicyID), grantKey(grantID)}
	err = s.ledger.Execute(ctx, sender, keys, func(tx *ledger.Tx) error {
		req, err := ledger.Get[access.Request](tx, requestKey(requestID))
		if err != nil {
			return err
		}
		if req.Status != access.RequestPending {
			return apperrors.InvalidArgument("request", "already "+string(req.Status))
		}
		policy, err := ledger.Get[access.Policy](tx, policyKey(req.PolicyID))
		if err != nil {
			return err
		}
		if !policy.CanManage(tx.Sender()) {
			return apperrors.ErrNotAuthorized
		}

		req.Status = access.RequestDenied
		if res.Approve {
			if _, err := s.issueGrant(tx, &policy, grantID, req.Requester, req.Role, res.ExpiresAt, res.KeyFragment); err != nil {
				return err
			}
			req.Status = access.RequestApproved
			req.GrantID = grantID
		}
		req.ResolvedBy = tx.Sender()
		req.ResolvedAt = tx.Now()
		tx.Emit(events.AccessRequestResolved, policy.ID, map[string]string{
			"request_id": requestID,
			"requester":  req.Requester,
			"status":     string(req.Status),
		})
		out = req
		return tx.Put(requestKey(requestID), req)
	})
	return out, err
}

// Lockdown strips every role and forces the policy private. Requires an
// admin capability.
func (s *Service) Lockdown(ctx context.Context, sender, token, policyID string) (access.Policy, error) {
	claims, err := s.caps.Parse(token)
	if err != nil {
		return access.Policy{}, err
	}
	var out access.Policy
	err = s.ledger.Execute(ctx, sender, []ledger.Key{capability.Key(claims.ID), policyKey(policyID)}, func(tx *ledger.Tx) error {
		if _, err := capability.Consume(tx, claims, capability.ActionLockdown, policyID); err != nil {
			return err
		}
		policy, err := ledger.Get[access.Policy](tx, policyKey(policyID))
		if err != nil {
			return err
		}
		policy.ClearRoles()
		policy.IsPublic = false
		policy.LockedDown = true
		policy.UpdatedAt = tx.Now()
		tx.Emit(events.PolicyLockdown, policyID, nil)
		out = policy
		return tx.Put(policyKey(policyID), policy)
	})
	if err != nil {
		return access.Policy{}, err
	}
	s.log.WithField("policy_id", policyID).WithField("admin", sender).Warn("access policy locked down")
	return out, nil
}

// IsGrantValid reports whether a grant is live at the given time. A zero
// time means now.
func (s *Service) IsGrantValid(ctx context.Context, grantID string, at time.Time) (bool, error) {
	grant, err := s.GetGrant(ctx, grantID)
	if err != nil {
		return false, err
	}
	if at.IsZero() {
		at = s.ledger.Now()
	}
	return grant.IsValid(at), nil
}

// Authorize decides whether sender may decrypt the policy's content and, if
// so, returns the key reference and the grant's key fragment. evidence is a
// JSON object the policy conditions are evaluated against, after the
// reserved ledger facts (caller, content, reputation, now) are merged in.
func (s *Service) Authorize(ctx context.Context, sender, policyID string, evidence []byte) (access.Decision, error) {
	if sender == "" {
		return access.Decision{}, apperrors.ErrUnauthenticated
	}
	policy, err := s.GetPolicy(ctx, policyID)
	if err != nil {
		return access.Decision{}, err
	}
	decision := access.Decision{PolicyID: policy.ID, ContentID: policy.ContentID, KeyRef: policy.KeyRef}
	switch {
	case policy.IsPublic:
		decision.Basis = "public"
		return decision, nil
	case sender == policy.Owner:
		decision.Basis = "owner"
		return decision, nil
	}

	now := s.ledger.Now()
	if !policy.WindowStart.IsZero() && now.Before(policy.WindowStart) {
		return access.Decision{}, apperrors.ErrAccessDenied.WithMessage("access window opens at %s", policy.WindowStart.Format(time.RFC3339))
	}
	if !policy.WindowEnd.IsZero() && now.After(policy.WindowEnd) {
		return access.Decision{}, apperrors.ErrPolicyExpired
	}

	grants, err := ledger.FetchAll(ctx, s.ledger, access.KindGrant, func(g access.Grant) bool {
		return g.PolicyID == policyID && g.Grantee == sender && g.IsValid(now) && policy.HasRole(g.Role, sender)
	})
	if err != nil {
		return access.Decision{}, err
	}
	if len(grants) == 0 {
		return access.Decision{}, apperrors.ErrAccessDenied.WithMessage("no valid grant")
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].IssuedAt.After(grants[j].IssuedAt) })
	grant := grants[0]

	rec, err := ledger.Fetch[provenance.Record](ctx, s.ledger, contentKey(policy.ContentID))
	if err != nil {
		return access.Decision{}, err
	}
	if policy.RequiresVerification && rec.VerificationCount == 0 {
		return access.Decision{}, apperrors.ErrAccessDenied.WithMessage("content has not been verified")
	}

	if len(policy.Conditions) > 0 {
		facts, err := s.callerFacts(ctx, sender, now)
		if err != nil {
			return access.Decision{}, err
		}
		evidence, err = evaluationDocument(evidence, facts, rec, now)
		if err != nil {
			return access.Decision{}, apperrors.ErrAccessDenied.WithMessage("%s", err.Error())
		}
	}
	types := make([]string, 0, len(policy.Conditions))
	for t := range policy.Conditions {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		ok, err := Evaluate(policy.Conditions[t], evidence)
		if err != nil {
			s.log.WithError(err).WithField("policy_id", policyID).WithField("condition", t).Debug("condition evaluation failed")
		}
		if err != nil || !ok {
			return access.Decision{}, apperrors.ErrAccessDenied.WithDetails("condition", t)
		}
	}

	decision.KeyFragment = grant.KeyFragment
	decision.Basis = string(grant.Role)
	decision.GrantID = grant.ID
	return decision, nil
}

func (s *Service) ownerMutate(ctx context.Context, sender, policyID string, fn func(*ledger.Tx, *access.Policy) error) (access.Policy, error) {
	var out access.Policy
	err := s.ledger.Execute(ctx, sender, []ledger.Key{policyKey(policyID)}, func(tx *ledger.Tx) error {
		policy, err := ledger.Get[access.Policy](tx, policyKey(policyID))
		if err != nil {
			return err
		}
		if policy.Owner != tx.Sender() {
			return apperrors.ErrNotOwner
		}
		if err := fn(tx, &policy); err != nil {
			return err
		}
		policy.UpdatedAt = tx.Now()
		out = policy
		return tx.Put(policyKey(policyID), policy)
	})
	return out, err
}

// GetPolicy returns a policy.
func (s *Service) GetPolicy(ctx context.Context, id string) (access.Policy, error) {
	return ledger.Fetch[access.Policy](ctx, s.ledger, policyKey(id))
}

// PolicyForContent resolves the policy attached to a content record.
func (s *Service) PolicyForContent(ctx context.Context, contentID string) (access.Policy, error) {
	idx, err := ledger.Fetch[access.PolicyIndex](ctx, s.ledger, indexKey(contentID))
	if err != nil {
		return access.Policy{}, err
	}
	return s.GetPolicy(ctx, idx.PolicyID)
}

// GetGrant returns a grant.
func (s *Service) GetGrant(ctx context.Context, id string) (access.Grant, error) {
	return ledger.Fetch[access.Grant](ctx, s.ledger, grantKey(id))
}

// ListGrants returns a policy's grants, newest first.
func (s *Service) ListGrants(ctx context.Context, policyID string) ([]access.Grant, error) {
	grants, err := ledger.FetchAll(ctx, s.ledger, access.KindGrant, func(g access.Grant) bool { return g.PolicyID == policyID })
	if err != nil {
		return nil, err
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].IssuedAt.After(grants[j].IssuedAt) })
	return grants, nil
}

// GetRequest returns an access request.
func (s *Service) GetRequest(ctx context.Context, id string) (access.Request, error) {
	return ledger.Fetch[access.Request](ctx, s.ledger, requestKey(id))
}

// ListRequests returns a policy's requests, optionally filtered by status.
func (s *Service) ListRequests(ctx context.Context, policyID string, status access.RequestStatus) ([]access.Request, error) {
	reqs, err := ledger.FetchAll(ctx, s.ledger, access.KindRequest, func(r access.Request) bool {
		return r.PolicyID == policyID && (status == "" || r.Status == status)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

// ViewPolicy returns a policy as reader may see it. The key reference and
// role sets are shown to the owner and admin members only; everyone else
// obtains the key reference through Authorize.
func (s *Service) ViewPolicy(ctx context.Context, reader, id string) (access.Policy, error) {
	if reader == "" {
		return access.Policy{}, apperrors.ErrUnauthenticated
	}
	policy, err := s.GetPolicy(ctx, id)
	if err != nil {
		return access.Policy{}, err
	}
	return policy.VisibleTo(reader), nil
}

// ViewPolicyForContent is ViewPolicy addressed by content id.
func (s *Service) ViewPolicyForContent(ctx context.Context, reader, contentID string) (access.Policy, error) {
	if reader == "" {
		return access.Policy{}, apperrors.ErrUnauthenticated
	}
	policy, err := s.PolicyForContent(ctx, contentID)
	if err != nil {
		return access.Policy{}, err
	}
	return policy.VisibleTo(reader), nil
}

// ViewGrants lists a policy's grants for its owner or admin members. Key
// fragments are never included.
func (s *Service) ViewGrants(ctx context.Context, reader, policyID string) ([]access.Grant, error) {
	if _, err := s.managedPolicy(ctx, reader, policyID); err != nil {
		return nil, err
	}
	grants, err := s.ListGrants(ctx, policyID)
	if err != nil {
		return nil, err
	}
	for i := range grants {
		grants[i] = grants[i].Redacted()
	}
	return grants, nil
}

// ViewGrant returns a grant to its grantee, its granter or a policy manager,
// without the key fragment.
func (s *Service) ViewGrant(ctx context.Context, reader, grantID string) (access.Grant, error) {
	if reader == "" {
		return access.Grant{}, apperrors.ErrUnauthenticated
	}
	grant, err := s.GetGrant(ctx, grantID)
	if err != nil {
		return access.Grant{}, err
	}
	if reader != grant.Grantee && reader != grant.Granter {
		if _, err := s.managedPolicy(ctx, reader, grant.PolicyID); err != nil {
			return access.Grant{}, err
		}
	}
	return grant.Redacted(), nil
}

// ViewRequests lists a policy's access requests for its owner or admin
// members.
func (s *Service) ViewRequests(ctx context.Context, reader, policyID string, status access.RequestStatus) ([]access.Request, error) {
	if _, err := s.managedPolicy(ctx, reader, policyID); err != nil {
		return nil, err
	}
	return s.ListRequests(ctx, policyID, status)
}

// ViewRequest returns a request to its requester or a policy manager.
func (s *Service) ViewRequest(ctx context.Context, reader, requestID string) (access.Request, error) {
	if reader == "" {
		return access.Request{}, apperrors.ErrUnauthenticated
	}
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return access.Request{}, err
	}
	if reader != req.Requester {
		if _, err := s.managedPolicy(ctx, reader, req.PolicyID); err != nil {
			return access.Request{}, err
		}
	}
	return req, nil
}

func (s *Service) managedPolicy(ctx context.Context, reader, policyID string) (access.Policy, error) {
	if reader == "" {
		return access.Policy{}, apperrors.ErrUnauthenticated
	}
	policy, err := s.GetPolicy(ctx, policyID)
	if err != nil {
		return access.Policy{}, err
	}
	if !policy.CanManage(reader) {
		return access.Policy{}, apperrors.ErrNotAuthorized
	}
	return policy, nil
}

// HasPolicy reports whether a content record has a policy attached.
func (s *Service) HasPolicy(ctx context.Context, contentID string) (bool, error) {
	_, err := ledger.Fetch[access.PolicyIndex](ctx, s.ledger, indexKey(contentID))
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
