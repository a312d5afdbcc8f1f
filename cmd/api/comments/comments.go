package comments

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apppkg "github.com/deskhive/deskhive-go/cmd/api/app"
	authpkg "github.com/deskhive/deskhive-go/cmd/api/auth"
	eventspkg "github.com/deskhive/deskhive-go/cmd/api/events"
	slapkg "github.com/deskhive/deskhive-go/internal/sla"
)

type Comment struct {
	ID        string    `json:"id"`
	AuthorID  *string   `json:"author_id,omitempty"`
	BodyMD    string    `json:"body_md"`
	Internal  bool      `json:"internal"`
	CreatedAt time.Time `json:"created_at"`
}

func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []Comment{})
			return
		}
		const q = `select id::text, author_id::text, body_md, is_internal, created_at
from ticket_comments where ticket_id = $1 order by created_at asc`
		rows, err := a.DB.Query(c.Request.Context(), q, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Comment{}
		for rows.Next() {
			var cm Comment
			if err := rows.Scan(&cm.ID, &cm.AuthorID, &cm.BodyMD, &cm.Internal, &cm.CreatedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, cm)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Add records a comment. A public reply from an agent counts as the first
// response, so the SLA clock is notified with the comment's timestamp.
func Add(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			BodyMD   string `json:"body_md" binding:"required"`
			Internal bool   `json:"internal"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		uVal, _ := c.Get("user")
		au, _ := uVal.(authpkg.AuthUser)
		if a.DB == nil {
			c.JSON(http.StatusCreated, gin.H{"id": "temp"})
			return
		}
		ticketID := c.Param("id")
		const q = `insert into ticket_comments (ticket_id, author_id, body_md, is_internal)
values ($1, nullif($2,''), $3, $4) returning id::text, created_at`
		var id string
		var createdAt time.Time
		if err := a.DB.QueryRow(c.Request.Context(), q, ticketID, au.ID, in.BodyMD, in.Internal).Scan(&id, &createdAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if a.Clock != nil && au.IsAgent() && !in.Internal {
			if _, err := a.Clock.RecordFirstResponse(c.Request.Context(), ticketID, createdAt); err != nil &&
				!errors.Is(err, slapkg.ErrNotAssigned) && !errors.Is(err, slapkg.ErrTicketNotFound) {
				log.Ctx(c.Request.Context()).Error().Err(err).Str("ticket_id", ticketID).Msg("record first response")
			}
			// Async recompute so the mirrored status catches up even if the
			// inline call raced a sweep.
			if a.Q != nil {
				job, _ := json.Marshal(gin.H{"type": "sla_recompute", "data": gin.H{"ticket_id": ticketID}})
				_ = a.Q.RPush(c.Request.Context(), "jobs", job).Err()
			}
		}

		eventspkg.Emit(c.Request.Context(), a.DB, ticketID, eventspkg.TypeTicketUpdated, gin.H{"id": ticketID, "comment_id": id})
		c.JSON(http.StatusCreated, gin.H{"id": id, "created_at": createdAt})
	}
}
