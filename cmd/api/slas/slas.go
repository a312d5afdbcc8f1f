package slas

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apppkg "github.com/deskhive/deskhive-go/cmd/api/app"
	eventspkg "github.com/deskhive/deskhive-go/cmd/api/events"
	metricspkg "github.com/deskhive/deskhive-go/cmd/api/metrics"
	slapkg "github.com/deskhive/deskhive-go/internal/sla"
)

// List returns SLA policies.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []slapkg.Policy{})
			return
		}
		policies, err := slapkg.ListPolicies(c.Request.Context(), a.DB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, policies)
	}
}

// Status reports a ticket's current SLA standing: the active policy
// instance, the computed status and whether the clock is paused. Tickets
// with no SLA come back as inactive, not as an error.
func Status(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Clock == nil {
			c.JSON(http.StatusOK, slapkg.StatusInfo{Status: slapkg.StatusInactive})
			return
		}
		info, err := a.Clock.CheckStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortClockError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// Pause freezes the ticket's SLA status display.
func Pause(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Clock == nil {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		id := c.Param("id")
		pt, err := a.Clock.Pause(c.Request.Context(), id)
		if err != nil {
			abortClockError(c, err)
			return
		}
		eventspkg.Emit(c.Request.Context(), a.DB, id, eventspkg.TypeSLAPaused, gin.H{"id": id})
		eventspkg.Publish(c.Request.Context(), a.Q, eventspkg.Envelope{Type: eventspkg.TypeSLAPaused, Data: gin.H{"id": id}})
		c.JSON(http.StatusOK, pt)
	}
}

// Resume closes the open pause period and recomputes the status.
func Resume(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Clock == nil {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		id := c.Param("id")
		pt, err := a.Clock.Resume(c.Request.Context(), id)
		if err != nil {
			abortClockError(c, err)
			return
		}
		eventspkg.Emit(c.Request.Context(), a.DB, id, eventspkg.TypeSLAResumed, gin.H{"id": id})
		eventspkg.Publish(c.Request.Context(), a.Q, eventspkg.Envelope{Type: eventspkg.TypeSLAResumed, Data: gin.H{"id": id}})
		c.JSON(http.StatusOK, pt)
	}
}

// Recompute recomputes one ticket's breach flags and mirrored status.
func Recompute(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Clock == nil {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		t, err := a.Clock.UpdateBreachStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortClockError(c, err)
			return
		}
		if t.SLAStatus == slapkg.StatusBreached {
			eventspkg.Emit(c.Request.Context(), a.DB, t.ID, eventspkg.TypeSLABreached, gin.H{"id": t.ID})
			eventspkg.Publish(c.Request.Context(), a.Q, eventspkg.Envelope{Type: eventspkg.TypeSLABreached, Data: gin.H{"id": t.ID}})
		}
		c.JSON(http.StatusOK, gin.H{
			"id":                          t.ID,
			"sla_status":                  t.SLAStatus,
			"first_response_sla_breached": t.FirstResponseBreached,
			"resolution_sla_breached":     t.ResolutionBreached,
		})
	}
}

// FixBreaches runs the breach-repair sweep once, bounded by ?limit.
// Administrators get an aggregate count, not per-row detail.
func FixBreaches(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Fixer == nil {
			c.JSON(http.StatusOK, gin.H{"fixed": 0})
			return
		}
		n, err := a.Fixer.FixBreachedSLAs(c.Request.Context(), sweepLimit(c, a.Cfg.SLARepairLimit))
		if err != nil {
			metricspkg.SweepErrors.Inc()
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("breach sweep")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
			return
		}
		metricspkg.BreachesRepaired.Add(float64(n))
		c.JSON(http.StatusOK, gin.H{"fixed": n})
	}
}

// MissedFirstResponses runs the first-response backfill sweep once.
func MissedFirstResponses(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Fixer == nil {
			c.JSON(http.StatusOK, gin.H{"fixed": 0})
			return
		}
		n, err := a.Fixer.CheckMissedFirstResponses(c.Request.Context(), sweepLimit(c, a.Cfg.SLARepairLimit))
		if err != nil {
			metricspkg.SweepErrors.Inc()
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("missed first response sweep")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
			return
		}
		metricspkg.FirstResponsesBackfilled.Add(float64(n))
		c.JSON(http.StatusOK, gin.H{"fixed": n})
	}
}

func sweepLimit(c *gin.Context, def int) int {
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

// abortClockError maps the SLA core's sentinels onto the error envelope. A
// missing SLA is a distinct 404-class answer, not a generic server error.
func abortClockError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, slapkg.ErrTicketNotFound):
		apppkg.AbortError(c, http.StatusNotFound, "ticket_not_found", "ticket not found", nil)
	case errors.Is(err, slapkg.ErrNotAssigned), errors.Is(err, slapkg.ErrPolicyNotFound):
		apppkg.AbortError(c, http.StatusNotFound, "sla_not_assigned", "no sla policy for this ticket", nil)
	case errors.Is(err, slapkg.ErrAlreadyPaused):
		apppkg.AbortError(c, http.StatusConflict, "sla_already_paused", "sla is already paused", nil)
	case errors.Is(err, slapkg.ErrNotPaused):
		apppkg.AbortError(c, http.StatusConflict, "sla_not_paused", "sla is not paused", nil)
	default:
		apppkg.AbortError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}
