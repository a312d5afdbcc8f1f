package tickets

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	apppkg "github.com/deskhive/deskhive-go/cmd/api/app"
	eventspkg "github.com/deskhive/deskhive-go/cmd/api/events"
	slapkg "github.com/deskhive/deskhive-go/internal/sla"
)

type Ticket struct {
	ID                 string  `json:"id"`
	Number             any     `json:"number,omitempty"`
	OrganizationID     string  `json:"organization_id,omitempty"`
	Title              string  `json:"title,omitempty"`
	Status             string  `json:"status,omitempty"`
	Priority           int16   `json:"priority,omitempty"`
	RequesterID        *string `json:"requester_id,omitempty"`
	SLAStatus          string  `json:"sla_status,omitempty"`
	FirstRespBreached  bool    `json:"first_response_sla_breached"`
	ResolutionBreached bool    `json:"resolution_sla_breached"`
}

// createTicketReq mirrors the JSON body for creating a ticket.
type createTicketReq struct {
	OrganizationID string  `json:"organization_id" binding:"required"`
	Title          string  `json:"title" binding:"required,min=3"`
	Description    string  `json:"description"`
	Priority       int16   `json:"priority" binding:"required,min=1,max=4"`
	RequesterID    *string `json:"requester_id"`
	Source         string  `json:"source"`
}

type updateTicketReq struct {
	Priority *int16  `json:"priority" binding:"omitempty,min=1,max=4"`
	Status   *string `json:"status"`
	Title    *string `json:"title" binding:"omitempty,min=3"`
}

func bindErrors(err error) map[string]string {
	errs := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			errs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return errs
}

// Create inserts a new ticket and starts its SLA clock. A missing policy
// for the ticket's priority is not an error; the ticket simply has no SLA.
func Create(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createTicketReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": bindErrors(err)})
			return
		}
		// Test mode: no DB attached
		if a.DB == nil {
			c.JSON(http.StatusCreated, Ticket{Title: in.Title, Priority: in.Priority, Status: "open"})
			return
		}
		if in.Source == "" {
			in.Source = "web"
		}
		const q = `with s as (select nextval('ticket_seq') n)
insert into tickets (number, organization_id, title, description, requester_id, priority, status, source)
values ((select 'DH-'||n from s), $1, $2, $3, $4, $5, 'open', $6)
returning id::text, number, title, status, priority`
		var t Ticket
		var number any
		row := a.DB.QueryRow(c.Request.Context(), q, in.OrganizationID, in.Title, in.Description, in.RequesterID, in.Priority, in.Source)
		if err := row.Scan(&t.ID, &number, &t.Title, &t.Status, &t.Priority); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		t.Number = number
		t.OrganizationID = in.OrganizationID
		t.RequesterID = in.RequesterID

		if a.Clock != nil {
			pt, err := a.Clock.AutoAssignPolicy(c.Request.Context(), t.ID)
			switch {
			case err == nil:
				if info, serr := a.Clock.CheckStatus(c.Request.Context(), t.ID); serr == nil {
					t.SLAStatus = string(info.Status)
				}
				eventspkg.Emit(c.Request.Context(), a.DB, t.ID, eventspkg.TypeSLAAssigned, pt)
			case errors.Is(err, slapkg.ErrPolicyNotFound):
				log.Ctx(c.Request.Context()).Debug().Str("ticket_id", t.ID).Int16("priority", t.Priority).Msg("no sla policy")
			default:
				log.Ctx(c.Request.Context()).Error().Err(err).Str("ticket_id", t.ID).Msg("sla assignment")
			}
		}

		eventspkg.Emit(c.Request.Context(), a.DB, t.ID, eventspkg.TypeTicketCreated, t)
		eventspkg.Publish(c.Request.Context(), a.Q, eventspkg.Envelope{Type: eventspkg.TypeTicketCreated, Data: t})
		c.JSON(http.StatusCreated, t)
	}
}

// List returns recent tickets with basic filters.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []Ticket{})
			return
		}
		where := []string{}
		args := []any{}
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			where = append(where, fmt.Sprintf("t.status = $%d", len(args)+1))
			args = append(args, v)
		}
		if v := strings.TrimSpace(c.Query("priority")); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				where = append(where, fmt.Sprintf("t.priority = $%d", len(args)+1))
				args = append(args, p)
			}
		}
		if v := strings.TrimSpace(c.Query("org")); v != "" {
			where = append(where, fmt.Sprintf("t.organization_id = $%d", len(args)+1))
			args = append(args, v)
		}
		if v := strings.TrimSpace(c.Query("sla_status")); v != "" {
			where = append(where, fmt.Sprintf("t.sla_status = $%d", len(args)+1))
			args = append(args, v)
		}
		sql := `select t.id::text, t.number, t.organization_id::text, t.title, t.status, t.priority,
t.requester_id::text, coalesce(t.sla_status,''), t.first_response_sla_breached, t.resolution_sla_breached
from tickets t`
		if len(where) > 0 {
			sql += " where " + strings.Join(where, " and ")
		}
		sql += " order by t.created_at desc limit 100"
		rows, err := a.DB.Query(c.Request.Context(), sql, args...)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Ticket{}
		for rows.Next() {
			var t Ticket
			var number any
			if err := rows.Scan(&t.ID, &number, &t.OrganizationID, &t.Title, &t.Status, &t.Priority,
				&t.RequesterID, &t.SLAStatus, &t.FirstRespBreached, &t.ResolutionBreached); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			t.Number = number
			out = append(out, t)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Get returns one ticket with its mirrored SLA columns.
func Get(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, Ticket{ID: c.Param("id")})
			return
		}
		const q = `select t.id::text, t.number, t.organization_id::text, t.title, t.status, t.priority,
t.requester_id::text, coalesce(t.sla_status,''), t.first_response_sla_breached, t.resolution_sla_breached
from tickets t where t.id = $1`
		var t Ticket
		var number any
		err := a.DB.QueryRow(c.Request.Context(), q, c.Param("id")).Scan(&t.ID, &number, &t.OrganizationID,
			&t.Title, &t.Status, &t.Priority, &t.RequesterID, &t.SLAStatus, &t.FirstRespBreached, &t.ResolutionBreached)
		if errors.Is(err, pgx.ErrNoRows) {
			apppkg.AbortError(c, http.StatusNotFound, "ticket_not_found", "ticket not found", nil)
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		t.Number = number
		c.JSON(http.StatusOK, t)
	}
}

// Update patches title, status or priority. A priority change re-resolves
// the SLA policy; moving to resolved or closed stamps the terminal time and
// finalizes the SLA outcome.
func Update(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in updateTicketReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": bindErrors(err)})
			return
		}
		if in.Priority == nil && in.Status == nil && in.Title == nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": map[string]string{"body": "empty"}})
			return
		}
		if in.Status != nil && !validStatus(*in.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": map[string]string{"status": "invalid"}})
			return
		}
		if a.DB == nil {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		id := c.Param("id")

		set := []string{"updated_at = now()"}
		args := []any{id}
		if in.Title != nil {
			set = append(set, fmt.Sprintf("title = $%d", len(args)+1))
			args = append(args, *in.Title)
		}
		if in.Priority != nil {
			set = append(set, fmt.Sprintf("priority = $%d", len(args)+1))
			args = append(args, *in.Priority)
		}
		var priorityChanged, becameTerminal bool
		if in.Priority != nil {
			var cur int16
			if err := a.DB.QueryRow(c.Request.Context(), `select priority from tickets where id = $1`, id).Scan(&cur); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					apppkg.AbortError(c, http.StatusNotFound, "ticket_not_found", "ticket not found", nil)
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			priorityChanged = cur != *in.Priority
		}
		if in.Status != nil {
			set = append(set, fmt.Sprintf("status = $%d", len(args)+1))
			args = append(args, *in.Status)
			switch *in.Status {
			case "resolved":
				set = append(set, "resolved_at = coalesce(resolved_at, now())")
				becameTerminal = true
			case "closed":
				set = append(set, "closed_at = coalesce(closed_at, now())")
				becameTerminal = true
			}
		}
		sql := "update tickets set " + strings.Join(set, ", ") + " where id = $1"
		tag, err := a.DB.Exec(c.Request.Context(), sql, args...)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if tag.RowsAffected() == 0 {
			apppkg.AbortError(c, http.StatusNotFound, "ticket_not_found", "ticket not found", nil)
			return
		}

		if a.Clock != nil && priorityChanged {
			if _, err := a.Clock.AutoAssignPolicy(c.Request.Context(), id); err != nil && !errors.Is(err, slapkg.ErrPolicyNotFound) {
				log.Ctx(c.Request.Context()).Error().Err(err).Str("ticket_id", id).Msg("sla reassignment")
			}
		}
		if a.Clock != nil && becameTerminal {
			if _, err := a.Clock.UpdateBreachStatus(c.Request.Context(), id); err != nil && !errors.Is(err, slapkg.ErrNotAssigned) {
				log.Ctx(c.Request.Context()).Error().Err(err).Str("ticket_id", id).Msg("sla finalize")
			}
		}

		eventspkg.Emit(c.Request.Context(), a.DB, id, eventspkg.TypeTicketUpdated, in)
		eventspkg.Publish(c.Request.Context(), a.Q, eventspkg.Envelope{Type: eventspkg.TypeTicketUpdated, Data: gin.H{"id": id}})
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func validStatus(s string) bool {
	switch s {
	case "open", "pending", "resolved", "closed":
		return true
	}
	return false
}
