package sla

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store for clock and reconciler tests.
type memStore struct {
	mu        sync.Mutex
	tickets   map[string]*Ticket
	policies  map[string]map[int16]*Policy
	calendars map[string]*Calendar
	active    map[string]*PolicyTicket // by ticket id
	comments  map[string][]Comment
	seq       int
}

func newMemStore() *memStore {
	return &memStore{
		tickets:   map[string]*Ticket{},
		policies:  map[string]map[int16]*Policy{},
		calendars: map[string]*Calendar{},
		active:    map[string]*PolicyTicket{},
		comments:  map[string][]Comment{},
	}
}

func (m *memStore) addTicket(t Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.SLAStatus == "" {
		t.SLAStatus = StatusInactive
	}
	m.tickets[t.ID] = &t
}

func (m *memStore) addPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policies[p.OrganizationID] == nil {
		m.policies[p.OrganizationID] = map[int16]*Policy{}
	}
	m.policies[p.OrganizationID][p.Priority] = &p
}

func (m *memStore) addComment(ticketID string, c Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[ticketID] = append(m.comments[ticketID], c)
}

func (m *memStore) Ticket(ctx context.Context, id string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) Policy(ctx context.Context, orgID string, priority int16) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.policies[orgID][priority]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPolicyNotFound
}

func (m *memStore) Calendar(ctx context.Context, orgID string) (*Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calendars[orgID]; ok {
		return c, nil
	}
	return nil, ErrNoCalendar
}

func (m *memStore) ActivePolicyTicket(ctx context.Context, ticketID string) (*PolicyTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pt, ok := m.active[ticketID]
	if !ok {
		return nil, ErrNotAssigned
	}
	cp := *pt
	cp.Metadata = Metadata{PausePeriods: append([]PausePeriod(nil), pt.Metadata.PausePeriods...)}
	return &cp, nil
}

func (m *memStore) ReplacePolicyTicket(ctx context.Context, pt *PolicyTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	pt.ID = fmt.Sprintf("pt-%d", m.seq)
	pt.Version = 1
	cp := *pt
	m.active[pt.TicketID] = &cp
	return nil
}

func (m *memStore) UpdatePolicyTicket(ctx context.Context, pt *PolicyTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.active[pt.TicketID]
	if !ok || cur.ID != pt.ID {
		return ErrNotAssigned
	}
	if cur.Version != pt.Version {
		return ErrVersionConflict
	}
	pt.Version++
	cp := *pt
	cp.Metadata = Metadata{PausePeriods: append([]PausePeriod(nil), pt.Metadata.PausePeriods...)}
	m.active[pt.TicketID] = &cp
	return nil
}

func (m *memStore) UpdateTicketSLA(ctx context.Context, ticketID string, status Status, frBreached, resBreached bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return ErrTicketNotFound
	}
	t.SLAStatus = status
	t.FirstResponseBreached = frBreached
	t.ResolutionBreached = resBreached
	return nil
}

func (m *memStore) EarliestAgentReply(ctx context.Context, ticketID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest *time.Time
	for _, c := range m.comments[ticketID] {
		if !c.Qualifying() {
			continue
		}
		at := c.CreatedAt
		if earliest == nil || at.Before(*earliest) {
			earliest = &at
		}
	}
	return earliest, nil
}

func (m *memStore) BreachCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, pt := range m.active {
		t := m.tickets[id]
		if t == nil || t.ResolvedAt != nil || t.ClosedAt != nil || t.SLAStatus == StatusPaused {
			continue
		}
		frStale := pt.FirstResponseDueAt.Before(now) && !metTrue(pt.FirstResponseMet) && !t.FirstResponseBreached
		resStale := pt.ResolutionDueAt.Before(now) && !metTrue(pt.ResolutionMet) && !t.ResolutionBreached
		if frStale || resStale {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MissedFirstResponseCandidates(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, pt := range m.active {
		if pt.FirstResponseMet != nil {
			continue
		}
		for _, c := range m.comments[id] {
			if c.Qualifying() {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func metTrue(b *bool) bool { return b != nil && *b }
