package sla

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Status is the coarse SLA state mirrored onto the ticket row for listing
// and filtering. The PolicyTicket is the source of truth; the mirror must
// always equal what a recompute would produce.
type Status string

const (
	StatusActive    Status = "active"
	StatusWarning   Status = "warning"   // >=75% of the resolution window elapsed
	StatusCritical  Status = "critical"  // >=90%
	StatusBreached  Status = "breached"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusInactive  Status = "inactive" // no policy assigned
)

// Ticket is the subset of the ticket row the SLA core reads and mirrors.
type Ticket struct {
	ID                    string
	OrganizationID        string
	Priority              int16
	CreatedAt             time.Time
	ResolvedAt            *time.Time
	ClosedAt              *time.Time
	SLAStatus             Status
	FirstResponseBreached bool
	ResolutionBreached    bool
}

// Resolved reports whether the ticket reached a terminal state, and when.
func (t *Ticket) Resolved() (time.Time, bool) {
	switch {
	case t.ResolvedAt != nil:
		return *t.ResolvedAt, true
	case t.ClosedAt != nil:
		return *t.ClosedAt, true
	}
	return time.Time{}, false
}

// PolicyTicket binds one ticket to one policy: computed due dates, met
// flags (nil = unknown) and pause metadata. At most one per ticket is
// active; reassignment supersedes the old row.
type PolicyTicket struct {
	ID                 string     `json:"id"`
	TicketID           string     `json:"ticket_id"`
	PolicyID           string     `json:"policy_id"`
	FirstResponseDueAt time.Time  `json:"first_response_due_at"`
	NextResponseDueAt  *time.Time `json:"next_response_due_at,omitempty"`
	ResolutionDueAt    time.Time  `json:"resolution_due_at"`
	FirstResponseMet   *bool      `json:"first_response_met,omitempty"`
	NextResponseMet    *bool      `json:"next_response_met,omitempty"`
	ResolutionMet      *bool      `json:"resolution_met,omitempty"`
	Metadata           Metadata   `json:"metadata"`
	Version            int64      `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Paused reports whether an open pause period exists.
func (pt *PolicyTicket) Paused() bool { return pt.Metadata.OpenPause() != nil }

// Comment is the slice of a ticket comment the core needs to detect a
// qualifying agent reply.
type Comment struct {
	CreatedAt time.Time
	AuthorID  string
	Role      string
	Internal  bool
	System    bool
}

// Qualifying reports whether the comment counts as a first response: an
// agent-side author, not internal, not system-generated.
func (c Comment) Qualifying() bool {
	if c.Internal || c.System {
		return false
	}
	switch c.Role {
	case "agent", "manager", "admin":
		return true
	}
	return false
}

// Store is the persistence surface the clock and reconciler operate
// through. The Postgres implementation lives in store.go; tests use an
// in-memory one.
type Store interface {
	Ticket(ctx context.Context, id string) (*Ticket, error)
	Policy(ctx context.Context, orgID string, priority int16) (*Policy, error)
	Calendar(ctx context.Context, orgID string) (*Calendar, error)

	// ActivePolicyTicket returns ErrNotAssigned when no active row exists.
	ActivePolicyTicket(ctx context.Context, ticketID string) (*PolicyTicket, error)
	// ReplacePolicyTicket supersedes any active row for the ticket and
	// inserts pt as the new active one, filling its ID and Version.
	ReplacePolicyTicket(ctx context.Context, pt *PolicyTicket) error
	// UpdatePolicyTicket persists pt guarded by its Version; returns
	// ErrVersionConflict when a concurrent writer got there first.
	UpdatePolicyTicket(ctx context.Context, pt *PolicyTicket) error

	// UpdateTicketSLA writes the denormalized mirror fields.
	UpdateTicketSLA(ctx context.Context, ticketID string, status Status, frBreached, resBreached bool) error

	// EarliestAgentReply returns the timestamp of the first qualifying
	// comment on the ticket, or nil when none exists.
	EarliestAgentReply(ctx context.Context, ticketID string) (*time.Time, error)

	// BreachCandidates lists ids of open, unpaused tickets whose due dates
	// have passed but whose breach flags are stale. Bounded by limit.
	BreachCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
	// MissedFirstResponseCandidates lists ids of tickets with a qualifying
	// reply but first_response_met still unknown. Bounded by limit.
	MissedFirstResponseCandidates(ctx context.Context, limit int) ([]string, error)
}

// StatusInfo is the read-only answer to "where does this ticket's SLA
// stand right now".
type StatusInfo struct {
	SLA            *PolicyTicket `json:"sla,omitempty"`
	Status         Status        `json:"status"`
	Paused         bool          `json:"paused"`
	PercentElapsed float64       `json:"percent_elapsed"`
}

const lockStripes = 64

// Clock is the per-ticket SLA state machine. Mutations for the same ticket
// are serialized through striped locks so a comment event and a
// reconciliation sweep cannot race the (PolicyTicket, Ticket) pair apart.
type Clock struct {
	store Store
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

// NewClock builds a Clock over the given store.
func NewClock(store Store) *Clock {
	return &Clock{store: store, now: time.Now}
}

func (c *Clock) lock(ticketID string) func() {
	h := fnv.New32a()
	h.Write([]byte(ticketID))
	mu := &c.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// AutoAssignPolicy resolves the policy for the ticket's organization and
// priority and creates (or replaces) its PolicyTicket with due dates
// computed from the ticket's original creation time. On priority change the
// old deadlines are discarded, not carried forward. Returns
// ErrPolicyNotFound when no policy matches; callers on the ticket-creation
// path log and continue.
func (c *Clock) AutoAssignPolicy(ctx context.Context, ticketID string) (*PolicyTicket, error) {
	defer c.lock(ticketID)()

	t, err := c.store.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	pol, err := c.store.Policy(ctx, t.OrganizationID, t.Priority)
	if err != nil {
		return nil, err
	}
	cal, err := c.store.Calendar(ctx, t.OrganizationID)
	if err != nil && err != ErrNoCalendar {
		return nil, err
	}

	pt := &PolicyTicket{
		TicketID:           ticketID,
		PolicyID:           pol.ID,
		FirstResponseDueAt: cal.AddDuration(t.CreatedAt, pol.FirstResponseHours, pol.BusinessHoursOnly),
		ResolutionDueAt:    cal.AddDuration(t.CreatedAt, pol.ResolutionHours, pol.BusinessHoursOnly),
		CreatedAt:          c.now(),
	}
	if pol.NextResponseHours != nil {
		due := cal.AddDuration(t.CreatedAt, *pol.NextResponseHours, pol.BusinessHoursOnly)
		pt.NextResponseDueAt = &due
	}
	if err := c.store.ReplacePolicyTicket(ctx, pt); err != nil {
		return nil, err
	}
	now := c.now()
	status := computeStatus(t, pt, now)
	frB, resB := breachFlags(t, pt, now)
	if err := c.store.UpdateTicketSLA(ctx, ticketID, status, frB, resB); err != nil {
		return nil, err
	}
	return pt, nil
}

// Pause opens a pause period and parks the mirrored status at paused. The
// due dates themselves do not move; pausing freezes the displayed status,
// not the deadline math (documented limitation carried over from the
// original behavior).
func (c *Clock) Pause(ctx context.Context, ticketID string) (*PolicyTicket, error) {
	defer c.lock(ticketID)()

	t, err := c.store.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	pt, err := c.store.ActivePolicyTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := pt.Metadata.StartPause(c.now()); err != nil {
		return nil, err
	}
	if err := c.store.UpdatePolicyTicket(ctx, pt); err != nil {
		return nil, err
	}
	if err := c.store.UpdateTicketSLA(ctx, ticketID, StatusPaused, t.FirstResponseBreached, t.ResolutionBreached); err != nil {
		return nil, err
	}
	return pt, nil
}

// Resume closes the open pause period and recomputes the status from
// elapsed-vs-due as of now.
func (c *Clock) Resume(ctx context.Context, ticketID string) (*PolicyTicket, error) {
	defer c.lock(ticketID)()

	t, err := c.store.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	pt, err := c.store.ActivePolicyTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := pt.Metadata.EndPause(c.now()); err != nil {
		return nil, err
	}
	if err := c.store.UpdatePolicyTicket(ctx, pt); err != nil {
		return nil, err
	}
	now := c.now()
	status := computeStatus(t, pt, now)
	frB, resB := breachFlags(t, pt, now)
	if err := c.store.UpdateTicketSLA(ctx, ticketID, status, frB, resB); err != nil {
		return nil, err
	}
	return pt, nil
}

// RecordFirstResponse marks the first-response outcome from a qualifying
// agent reply at the given time. A no-op once the outcome is known.
func (c *Clock) RecordFirstResponse(ctx context.Context, ticketID string, repliedAt time.Time) (*PolicyTicket, error) {
	defer c.lock(ticketID)()

	t, err := c.store.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	pt, err := c.store.ActivePolicyTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if pt.FirstResponseMet != nil {
		return pt, nil
	}
	met := !repliedAt.After(pt.FirstResponseDueAt)
	pt.FirstResponseMet = &met
	if err := c.store.UpdatePolicyTicket(ctx, pt); err != nil {
		return nil, err
	}
	t.FirstResponseBreached = t.FirstResponseBreached || !met
	now := c.now()
	status := computeStatus(t, pt, now)
	_, resB := breachFlags(t, pt, now)
	if err := c.store.UpdateTicketSLA(ctx, ticketID, status, t.FirstResponseBreached, resB); err != nil {
		return nil, err
	}
	return pt, nil
}

// CheckStatus reports the ticket's SLA standing without mutating anything.
// Tickets with no assigned policy come back as inactive, not as an error.
func (c *Clock) CheckStatus(ctx context.Context, ticketID string) (*StatusInfo, error) {
	t, err := c.store.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	pt, err := c.store.ActivePolicyTicket(ctx, ticketID)
	if err == ErrNotAssigned {
		return &StatusInfo{Status: StatusInactive}, nil
	}
	if err != nil {
		return nil, err
	}
	now := c.now()
	return &StatusInfo{
		SLA:            pt,
		Status:         computeStatus(t, pt, now),
		Paused:         pt.Paused(),
		PercentElapsed: percentElapsed(t, pt, now),
	}, nil
}

// UpdateBreachStatus recomputes the met flags, breach mirrors and status
// for one ticket and persists both rows. Flags only ever move toward
// breached; a met outcome is never overwritten.
func (c *Clock) UpdateBreachStatus(ctx context.Context, ticketID string) (*Ticket, error) {
	defer c.lock(ticketID)()

	t, err := c.store.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	pt, err := c.store.ActivePolicyTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	now := c.now()

	dirty := false
	if pt.FirstResponseMet == nil && now.After(pt.FirstResponseDueAt) {
		f := false
		pt.FirstResponseMet = &f
		dirty = true
	}
	if _, done := t.Resolved(); !done && !pt.Paused() {
		if pt.ResolutionMet == nil && now.After(pt.ResolutionDueAt) {
			f := false
			pt.ResolutionMet = &f
			dirty = true
		}
	}
	if dirty {
		if err := c.store.UpdatePolicyTicket(ctx, pt); err != nil {
			return nil, err
		}
	}

	frB, resB := breachFlags(t, pt, now)
	status := computeStatus(t, pt, now)
	if err := c.store.UpdateTicketSLA(ctx, ticketID, status, frB, resB); err != nil {
		return nil, err
	}
	t.SLAStatus = status
	t.FirstResponseBreached = frB
	t.ResolutionBreached = resB
	return t, nil
}

// breachFlags derives the mirror flags, never downgrading a recorded
// breach and never contradicting a met outcome.
func breachFlags(t *Ticket, pt *PolicyTicket, now time.Time) (frBreached, resBreached bool) {
	frBreached = t.FirstResponseBreached
	if pt.FirstResponseMet != nil {
		frBreached = frBreached || !*pt.FirstResponseMet
	} else if now.After(pt.FirstResponseDueAt) {
		frBreached = true
	}
	resBreached = t.ResolutionBreached
	if resolutionBreached(t, pt, now) {
		resBreached = true
	}
	return frBreached, resBreached
}

// resolutionBreached applies the core rule: the resolution due date passed
// without the resolution being met. Resolved tickets compare against their
// resolution time instead of now.
func resolutionBreached(t *Ticket, pt *PolicyTicket, now time.Time) bool {
	if pt.ResolutionMet != nil {
		return !*pt.ResolutionMet
	}
	ref := now
	if done, ok := t.Resolved(); ok {
		ref = done
	}
	return pt.ResolutionDueAt.Before(ref)
}

// computeStatus derives the coarse status. Paused tickets stay paused;
// resolved/closed tickets are terminal and never flip back to an open
// state.
func computeStatus(t *Ticket, pt *PolicyTicket, now time.Time) Status {
	if pt == nil {
		return StatusInactive
	}
	if _, ok := t.Resolved(); ok {
		if resolutionBreached(t, pt, now) {
			return StatusBreached
		}
		return StatusCompleted
	}
	if pt.Paused() {
		return StatusPaused
	}
	if resolutionBreached(t, pt, now) {
		return StatusBreached
	}
	switch pct := percentElapsed(t, pt, now); {
	case pct >= 0.90:
		return StatusCritical
	case pct >= 0.75:
		return StatusWarning
	default:
		return StatusActive
	}
}

// percentElapsed measures progress through the resolution window, both legs
// anchored at the ticket's creation time.
func percentElapsed(t *Ticket, pt *PolicyTicket, now time.Time) float64 {
	total := pt.ResolutionDueAt.Sub(t.CreatedAt).Minutes()
	if total <= 0 {
		return 1
	}
	elapsed := now.Sub(t.CreatedAt).Minutes()
	if elapsed < 0 {
		return 0
	}
	return elapsed / total
}
