package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	apppkg "github.com/deskhive/deskhive-go/cmd/api/app"
)

// Event types emitted by the SLA paths.
const (
	TypeTicketCreated = "ticket_created"
	TypeTicketUpdated = "ticket_updated"
	TypeSLAAssigned   = "sla_assigned"
	TypeSLAPaused     = "sla_paused"
	TypeSLAResumed    = "sla_resumed"
	TypeSLABreached   = "sla_breached"
)

// Envelope is the standardized event payload.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Emit records a ticket event in the database. Best effort; errors are ignored.
func Emit(ctx context.Context, db apppkg.DB, ticketID, typ string, data interface{}) {
	if db == nil {
		return
	}
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	const q = `insert into ticket_events (ticket_id, event_type, payload) values ($1, $2, $3)`
	_, _ = db.Exec(ctx, q, ticketID, typ, b)
}

// Publish sends an event to the Redis "events" channel. Best effort.
func Publish(ctx context.Context, rdb *redis.Client, ev Envelope) {
	if rdb == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = rdb.Publish(ctx, "events", b).Err()
}
