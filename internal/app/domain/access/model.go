package access

import (
	"strings"
	"time"
)

const (
	KindPolicy      = "policy"
	KindPolicyIndex = "policy_index"
	KindGrant       = "grant"
	KindRequest     = "access_request"
)

// Role is a membership class on a policy.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleViewer   Role = "viewer"
	RoleVerifier Role = "verifier"
)

// ParseRole normalises a role name.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleViewer, RoleVerifier:
		return r, true
	}
	return "", false
}

// Condition is a named predicate evaluated against caller evidence.
type Condition struct {
	Type      string    `json:"type"`
	Parameter string    `json:"parameter"`
	Value     string    `json:"value"`
	AddedAt   time.Time `json:"added_at"`
}

// Policy gates release of a content record's key material.
type Policy struct {
	ID                   string               `json:"id"`
	ContentID            string               `json:"content_id"`
	Owner                string               `json:"owner"`
	KeyRef               string               `json:"key_ref,omitempty"`
	Algorithm            string               `json:"algorithm"`
	IsPublic             bool                 `json:"is_public"`
	RequiresVerification bool                 `json:"requires_verification"`
	Admins               map[string]bool      `json:"admins"`
	Viewers              map[string]bool      `json:"viewers"`
	Verifiers            map[string]bool      `json:"verifiers"`
	Conditions           map[string]Condition `json:"conditions"`
	WindowStart          time.Time            `json:"window_start,omitempty"`
	WindowEnd            time.Time            `json:"window_end,omitempty"`
	LockedDown           bool                 `json:"locked_down"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

func (p *Policy) members(role Role) map[string]bool {
	switch role {
	case RoleAdmin:
		if p.Admins == nil {
			p.Admins = make(map[string]bool)
		}
		return p.Admins
	case RoleViewer:
		if p.Viewers == nil {
			p.Viewers = make(map[string]bool)
		}
		return p.Viewers
	case RoleVerifier:
		if p.Verifiers == nil {
			p.Verifiers = make(map[string]bool)
		}
		return p.Verifiers
	}
	return nil
}

// AddMember places addr in the role set.
func (p *Policy) AddMember(role Role, addr string) { p.members(role)[addr] = true }

// RemoveMember drops addr from the role set.
func (p *Policy) RemoveMember(role Role, addr string) { delete(p.members(role), addr) }

// HasRole reports membership.
func (p *Policy) HasRole(role Role, addr string) bool {
	switch role {
	case RoleAdmin:
		return p.Admins[addr]
	case RoleViewer:
		return p.Viewers[addr]
	case RoleVerifier:
		return p.Verifiers[addr]
	}
	return false
}

// CanManage is true for the owner and admin members.
func (p *Policy) CanManage(addr string) bool {
	return addr == p.Owner || p.Admins[addr]
}

// ClearRoles empties every role set.
func (p *Policy) ClearRoles() {
	p.Admins = map[string]bool{}
	p.Viewers = map[string]bool{}
	p.Verifiers = map[string]bool{}
}

// VisibleTo returns the policy as reader may see it: managers see
// everything, others see neither the key reference nor the role sets.
func (p Policy) VisibleTo(reader string) Policy {
	if p.CanManage(reader) {
		return p
	}
	p.KeyRef = ""
	p.Admins = nil
	p.Viewers = nil
	p.Verifiers = nil
	return p
}

// PolicyIndex enforces one policy per content record.
type PolicyIndex struct {
	ContentID string `json:"content_id"`
	PolicyID  string `json:"policy_id"`
}

// Grant is a revocable right to hold a role and a key fragment.
type Grant struct {
	ID          string    `json:"id"`
	PolicyID    string    `json:"policy_id"`
	Grantee     string    `json:"grantee"`
	Granter     string    `json:"granter"`
	Role        Role      `json:"role"`
	KeyFragment string    `json:"key_fragment,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Revoked     bool      `json:"revoked"`
	RevokedAt   time.Time `json:"revoked_at,omitempty"`
}

// IsValid is true when the grant is not revoked and not past its expiry.
// A zero expiry never lapses.
func (g Grant) IsValid(now time.Time) bool {
	if g.Revoked {
		return false
	}
	return g.ExpiresAt.IsZero() || !now.After(g.ExpiresAt)
}

// Redacted drops the key fragment. Fragments leave the ledger only through
// an authorization decision.
func (g Grant) Redacted() Grant {
	g.KeyFragment = ""
	return g
}

// RequestStatus tracks an access request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// Request is an actor's ask for a role on a policy.
type Request struct {
	ID            string        `json:"id"`
	PolicyID      string        `json:"policy_id"`
	Requester     string        `json:"requester"`
	Role          Role          `json:"role"`
	Justification string        `json:"justification"`
	Status        RequestStatus `json:"status"`
	ResolvedBy    string        `json:"resolved_by,omitempty"`
	GrantID       string        `json:"grant_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedAt    time.Time     `json:"resolved_at,omitempty"`
}

// Decision is the outcome of an authorization check.
type Decision struct {
	PolicyID    string `json:"policy_id"`
	ContentID   string `json:"content_id"`
	KeyRef      string `json:"key_ref"`
	KeyFragment string `json:"key_fragment,omitempty"`
	Basis       string `json:"basis"`
	GrantID     string `json:"grant_id,omitempty"`
}
