package sla

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Policy is an organization's response/resolution target set for one
// ticket priority.
type Policy struct {
	ID                 string `json:"id"`
	OrganizationID     string `json:"organization_id"`
	Name               string `json:"name"`
	Priority           int16  `json:"priority"`
	FirstResponseHours int    `json:"first_response_hours"`
	NextResponseHours  *int   `json:"next_response_hours,omitempty"`
	ResolutionHours    int    `json:"resolution_hours"`
	BusinessHoursOnly  bool   `json:"business_hours_only"`
}

// ResolvePolicy selects the policy matching the ticket's organization and
// priority. Returns ErrPolicyNotFound when none is configured; callers on
// the ticket-creation path treat that as "ticket has no SLA" and move on.
func ResolvePolicy(ctx context.Context, db DB, orgID string, priority int16) (*Policy, error) {
	const q = `select id::text, organization_id::text, name, priority, first_response_hours, next_response_hours, resolution_hours, business_hours_only
from sla_policies where organization_id=$1 and priority=$2`
	var p Policy
	err := db.QueryRow(ctx, q, orgID, priority).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Priority,
		&p.FirstResponseHours, &p.NextResponseHours, &p.ResolutionHours, &p.BusinessHoursOnly)
	if err == pgx.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPolicies returns all SLA policies ordered by priority.
func ListPolicies(ctx context.Context, db DB) ([]Policy, error) {
	const q = `select id::text, organization_id::text, name, priority, first_response_hours, next_response_hours, resolution_hours, business_hours_only
from sla_policies order by priority`
	rows, err := db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Policy{}
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Priority,
			&p.FirstResponseHours, &p.NextResponseHours, &p.ResolutionHours, &p.BusinessHoursOnly); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
