package sla

import "errors"

var (
	// ErrPolicyNotFound means no SLA policy matches the ticket's
	// organization and priority. Callers treat the ticket as having no SLA.
	ErrPolicyNotFound = errors.New("sla: policy not found")
	// ErrTicketNotFound means the referenced ticket row does not exist.
	ErrTicketNotFound = errors.New("sla: ticket not found")
	// ErrNotAssigned means the ticket has no active SLA policy instance.
	ErrNotAssigned = errors.New("sla: no active sla for ticket")
	// ErrNoCalendar means the organization has no business-hours profile.
	ErrNoCalendar = errors.New("sla: no business hours profile")
	// ErrAlreadyPaused is returned when pausing a ticket that already has an
	// open pause period.
	ErrAlreadyPaused = errors.New("sla: already paused")
	// ErrNotPaused is returned when resuming a ticket with no open pause.
	ErrNotPaused = errors.New("sla: not paused")
	// ErrVersionConflict means a concurrent writer updated the row first.
	ErrVersionConflict = errors.New("sla: version conflict")
)
