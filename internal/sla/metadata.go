package sla

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// PausePeriod is one frozen interval of a ticket's SLA clock. An open pause
// has no end.
type PausePeriod struct {
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Metadata is the structured sidecar stored on a PolicyTicket row. The pause
// list holds at most one open period, always the last element.
type Metadata struct {
	PausePeriods []PausePeriod `json:"pause_periods,omitempty"`
}

// parseMetadata decodes the stored JSON blob. Malformed blobs are logged and
// treated as empty ("not paused"); they never fail the caller.
func parseMetadata(b []byte) Metadata {
	var m Metadata
	if len(b) == 0 {
		return m
	}
	if err := json.Unmarshal(b, &m); err != nil {
		log.Warn().Err(err).Msg("malformed sla metadata, treating as empty")
		return Metadata{}
	}
	return m
}

func (m Metadata) marshal() []byte {
	b, err := json.Marshal(m)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

// OpenPause returns the open pause period, if any.
func (m *Metadata) OpenPause() *PausePeriod {
	if n := len(m.PausePeriods); n > 0 && m.PausePeriods[n-1].EndedAt == nil {
		return &m.PausePeriods[n-1]
	}
	return nil
}

// StartPause appends a new open pause period. Returns ErrAlreadyPaused if
// one is already open.
func (m *Metadata) StartPause(at time.Time) error {
	if m.OpenPause() != nil {
		return ErrAlreadyPaused
	}
	m.PausePeriods = append(m.PausePeriods, PausePeriod{StartedAt: at})
	return nil
}

// EndPause closes the open pause period. Returns ErrNotPaused if none is
// open.
func (m *Metadata) EndPause(at time.Time) error {
	p := m.OpenPause()
	if p == nil {
		return ErrNotPaused
	}
	p.EndedAt = &at
	return nil
}
