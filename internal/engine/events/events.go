// Package events defines the append-only event records emitted alongside
// committed state transitions, and an in-process fan-out buffer that off-chain
// consumers (websocket clients, exporters, metrics) subscribe to.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type classifies a state transition.
type Type string

const (
	// Provenance ledger
	ContentRegistered         Type = "content.registered"
	ContentMetadataUpdated    Type = "content.metadata_updated"
	ContentVerified           Type = "content.verified"
	ContentTransferIssued     Type = "content.transfer_issued"
	ContentTransferred        Type = "content.transferred"
	ContentTransferableChange Type = "content.transferable_changed"
	ContentTrustForced        Type = "content.trust_forced"

	// Verifier network
	VerifierRegistered       Type = "verifier.registered"
	VerifierStakeAdded       Type = "verifier.stake_added"
	VerifierStakeWithdrawn   Type = "verifier.stake_withdrawn"
	VerifierSlashed          Type = "verifier.slashed"
	VerifierReputationChange Type = "verifier.reputation_changed"
	TaskCreated              Type = "task.created"
	VoteCast                 Type = "task.vote_cast"
	TaskFinalized            Type = "task.finalized"
	RewardClaimed            Type = "task.reward_claimed"

	// Truth oracle
	OracleRegistered       Type = "oracle.registered"
	OracleDeactivated      Type = "oracle.deactivated"
	OracleReputationChange Type = "oracle.reputation_changed"
	DetectionOpened        Type = "detection.opened"
	DetectionSubmitted     Type = "detection.submitted"
	ConsensusReached       Type = "detection.consensus_reached"
	VerdictOverridden      Type = "detection.verdict_overridden"

	// Access control
	PolicyCreated         Type = "policy.created"
	GrantIssued           Type = "policy.grant_issued"
	GrantRevoked          Type = "policy.grant_revoked"
	ConditionAdded        Type = "policy.condition_added"
	ConditionRemoved      Type = "policy.condition_removed"
	PrivacyUpdated        Type = "policy.privacy_updated"
	AccessWindowSet       Type = "policy.access_window_set"
	AccessRequested       Type = "policy.access_requested"
	AccessRequestResolved Type = "policy.access_request_resolved"
	PolicyLockdown        Type = "policy.lockdown"

	// Capabilities
	CapabilityIssued   Type = "capability.issued"
	CapabilityConsumed Type = "capability.consumed"
	CapabilityRevoked  Type = "capability.revoked"
)

// Record is one committed event. Seq is assigned by the storage backend at
// commit time and is strictly increasing across the whole log.
type Record struct {
	Seq        uint64            `json:"seq"`
	Type       Type              `json:"type"`
	EntityID   string            `json:"entity_id"`
	Actor      string            `json:"actor"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// String returns the JSON encoding of the record.
func (r Record) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// Handler processes committed records.
type Handler func(Record)

// Filter decides whether a record should be delivered.
type Filter func(Record) bool

// OfTypes builds a filter matching any of the given types.
func OfTypes(types ...Type) Filter {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(r Record) bool {
		_, ok := set[r.Type]
		return ok
	}
}

// ForEntity builds a filter matching a single entity id.
func ForEntity(id string) Filter {
	return func(r Record) bool { return r.EntityID == id }
}

// Publisher receives committed records.
type Publisher interface {
	Publish(records ...Record)
}

// RingBuffer keeps the most recent records and fans them out to subscribers.
// It is safe for concurrent use.
type RingBuffer struct {
	mu       sync.RWMutex
	records  []Record
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Publisher = (*RingBuffer)(nil)

// NewRingBuffer creates a buffer retaining up to size records.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		records: make([]Record, size),
		size:    size,
	}
}

// Publish appends records in order and notifies handlers outside the lock.
func (rb *RingBuffer) Publish(records ...Record) {
	if len(records) == 0 {
		return
	}
	rb.mu.Lock()
	for _, rec := range records {
		rb.records[rb.head] = rec
		rb.head = (rb.head + 1) % rb.size
		if rb.count < rb.size {
			rb.count++
		}
	}
	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, rec := range records {
		for _, h := range handlers {
			if h.filter == nil || h.filter(rec) {
				h.handler(rec)
			}
		}
	}
}

// Subscribe registers a handler for all records and returns an unsubscribe func.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n records, most recent first.
func (rb *RingBuffer) Recent(n int) []Record {
	return rb.recentMatching(n, nil)
}

// RecentByType returns up to n records of the given type, most recent first.
func (rb *RingBuffer) RecentByType(t Type, n int) []Record {
	return rb.recentMatching(n, OfTypes(t))
}

// RecentByEntity returns up to n records for an entity, most recent first.
func (rb *RingBuffer) RecentByEntity(id string, n int) []Record {
	return rb.recentMatching(n, ForEntity(id))
}

func (rb *RingBuffer) recentMatching(n int, filter Filter) []Record {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	var result []Record
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if filter == nil || filter(rb.records[idx]) {
			result = append(result, rb.records[idx])
		}
	}
	return result
}

// Count returns the number of buffered records.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
