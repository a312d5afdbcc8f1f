package sla

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// StoreDB is the pgx surface the Postgres store needs.
type StoreDB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PgStore implements Store on Postgres. A partial unique index on
// sla_policy_tickets (ticket_id) where superseded_at is null backs the
// one-active-row-per-ticket invariant; an incrementing version column backs
// optimistic updates.
type PgStore struct {
	db StoreDB
}

// NewPgStore wraps db in a Store.
func NewPgStore(db StoreDB) *PgStore { return &PgStore{db: db} }

func (s *PgStore) Ticket(ctx context.Context, id string) (*Ticket, error) {
	const q = `select id::text, organization_id::text, priority, created_at, resolved_at, closed_at,
coalesce(sla_status,'inactive'), first_response_sla_breached, resolution_sla_breached
from tickets where id=$1`
	var t Ticket
	var status string
	err := s.db.QueryRow(ctx, q, id).Scan(&t.ID, &t.OrganizationID, &t.Priority, &t.CreatedAt,
		&t.ResolvedAt, &t.ClosedAt, &status, &t.FirstResponseBreached, &t.ResolutionBreached)
	if err == pgx.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	t.SLAStatus = Status(status)
	return &t, nil
}

func (s *PgStore) Policy(ctx context.Context, orgID string, priority int16) (*Policy, error) {
	return ResolvePolicy(ctx, s.db, orgID, priority)
}

func (s *PgStore) Calendar(ctx context.Context, orgID string) (*Calendar, error) {
	return LoadCalendar(ctx, s.db, orgID)
}

const ptColumns = `id::text, ticket_id::text, policy_id::text, first_response_due_at, next_response_due_at,
resolution_due_at, first_response_met, next_response_met, resolution_met, metadata, version, created_at`

func scanPolicyTicket(row pgx.Row) (*PolicyTicket, error) {
	var pt PolicyTicket
	var meta []byte
	err := row.Scan(&pt.ID, &pt.TicketID, &pt.PolicyID, &pt.FirstResponseDueAt, &pt.NextResponseDueAt,
		&pt.ResolutionDueAt, &pt.FirstResponseMet, &pt.NextResponseMet, &pt.ResolutionMet,
		&meta, &pt.Version, &pt.CreatedAt)
	if err != nil {
		return nil, err
	}
	pt.Metadata = parseMetadata(meta)
	return &pt, nil
}

func (s *PgStore) ActivePolicyTicket(ctx context.Context, ticketID string) (*PolicyTicket, error) {
	pt, err := scanPolicyTicket(s.db.QueryRow(ctx,
		`select `+ptColumns+` from sla_policy_tickets where ticket_id=$1 and superseded_at is null`, ticketID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotAssigned
	}
	if err != nil {
		return nil, err
	}
	return pt, nil
}

func (s *PgStore) ReplacePolicyTicket(ctx context.Context, pt *PolicyTicket) error {
	// Supersede-then-insert; the clock's per-ticket lock serializes callers
	// and the partial unique index rejects a second active row.
	if _, err := s.db.Exec(ctx,
		`update sla_policy_tickets set superseded_at=now() where ticket_id=$1 and superseded_at is null`,
		pt.TicketID); err != nil {
		return err
	}
	const q = `insert into sla_policy_tickets
(ticket_id, policy_id, first_response_due_at, next_response_due_at, resolution_due_at,
 first_response_met, next_response_met, resolution_met, metadata)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
returning id::text, version`
	return s.db.QueryRow(ctx, q, pt.TicketID, pt.PolicyID, pt.FirstResponseDueAt, pt.NextResponseDueAt,
		pt.ResolutionDueAt, pt.FirstResponseMet, pt.NextResponseMet, pt.ResolutionMet,
		pt.Metadata.marshal()).Scan(&pt.ID, &pt.Version)
}

func (s *PgStore) UpdatePolicyTicket(ctx context.Context, pt *PolicyTicket) error {
	const q = `update sla_policy_tickets
set first_response_met=$2, next_response_met=$3, resolution_met=$4, metadata=$5, version=version+1
where id=$1 and version=$6
returning version`
	err := s.db.QueryRow(ctx, q, pt.ID, pt.FirstResponseMet, pt.NextResponseMet, pt.ResolutionMet,
		pt.Metadata.marshal(), pt.Version).Scan(&pt.Version)
	if err == pgx.ErrNoRows {
		return ErrVersionConflict
	}
	return err
}

func (s *PgStore) UpdateTicketSLA(ctx context.Context, ticketID string, status Status, frBreached, resBreached bool) error {
	const q = `update tickets
set sla_status=$2, first_response_sla_breached=$3, resolution_sla_breached=$4, updated_at=now()
where id=$1`
	tag, err := s.db.Exec(ctx, q, ticketID, string(status), frBreached, resBreached)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// qualifyingComment filters to agent-side, non-internal, non-system replies.
const qualifyingComment = `not c.is_internal and not c.is_system
and exists (select 1 from user_roles ur join roles r on r.id=ur.role_id
            where ur.user_id=c.author_id and r.name in ('agent','manager','admin'))`

func (s *PgStore) EarliestAgentReply(ctx context.Context, ticketID string) (*time.Time, error) {
	const q = `select c.created_at from ticket_comments c
where c.ticket_id=$1 and ` + qualifyingComment + `
order by c.created_at asc limit 1`
	var at time.Time
	err := s.db.QueryRow(ctx, q, ticketID).Scan(&at)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

func (s *PgStore) BreachCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const q = `select pt.ticket_id::text
from sla_policy_tickets pt
join tickets t on t.id = pt.ticket_id
where pt.superseded_at is null
  and t.resolved_at is null and t.closed_at is null
  and t.sla_status is distinct from 'paused'
  and ((pt.first_response_due_at < $1 and pt.first_response_met is distinct from true and not t.first_response_sla_breached)
    or (pt.resolution_due_at < $1 and pt.resolution_met is distinct from true and not t.resolution_sla_breached))
order by t.created_at
limit $2`
	return s.ids(ctx, q, now, limit)
}

func (s *PgStore) MissedFirstResponseCandidates(ctx context.Context, limit int) ([]string, error) {
	const q = `select pt.ticket_id::text
from sla_policy_tickets pt
join tickets t on t.id = pt.ticket_id
where pt.superseded_at is null
  and pt.first_response_met is null
  and exists (select 1 from ticket_comments c where c.ticket_id = pt.ticket_id and ` + qualifyingComment + `)
order by t.created_at
limit $1`
	return s.ids(ctx, q, limit)
}

func (s *PgStore) ids(ctx context.Context, q string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
