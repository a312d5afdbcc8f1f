package slas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apppkg "github.com/deskhive/deskhive-go/cmd/api/app"
	slapkg "github.com/deskhive/deskhive-go/internal/sla"
)

type stubClock struct {
	status  *slapkg.StatusInfo
	pt      *slapkg.PolicyTicket
	err     error
	paused  []string
	resumed []string
}

func (s *stubClock) AutoAssignPolicy(ctx context.Context, id string) (*slapkg.PolicyTicket, error) {
	return s.pt, s.err
}
func (s *stubClock) Pause(ctx context.Context, id string) (*slapkg.PolicyTicket, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.paused = append(s.paused, id)
	return s.pt, nil
}
func (s *stubClock) Resume(ctx context.Context, id string) (*slapkg.PolicyTicket, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.resumed = append(s.resumed, id)
	return s.pt, nil
}
func (s *stubClock) RecordFirstResponse(ctx context.Context, id string, at time.Time) (*slapkg.PolicyTicket, error) {
	return s.pt, s.err
}
func (s *stubClock) CheckStatus(ctx context.Context, id string) (*slapkg.StatusInfo, error) {
	return s.status, s.err
}
func (s *stubClock) UpdateBreachStatus(ctx context.Context, id string) (*slapkg.Ticket, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &slapkg.Ticket{ID: id, SLAStatus: slapkg.StatusActive}, nil
}

type stubFixer struct {
	fixed    int
	backfill int
	limits   []int
	err      error
}

func (s *stubFixer) FixBreachedSLAs(ctx context.Context, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	return s.fixed, s.err
}
func (s *stubFixer) CheckMissedFirstResponses(ctx context.Context, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	return s.backfill, s.err
}

func newTestApp(clock apppkg.SLAClock, fixer apppkg.SLAFixer) *apppkg.App {
	gin.SetMode(gin.TestMode)
	a := apppkg.NewApp(apppkg.Config{Env: "test", SLARepairLimit: 500}, nil, clock, fixer, nil)
	a.R.GET("/slas", List(a))
	a.R.GET("/tickets/:id/sla", Status(a))
	a.R.POST("/tickets/:id/sla/pause", Pause(a))
	a.R.POST("/tickets/:id/sla/resume", Resume(a))
	a.R.POST("/tickets/:id/sla/recompute", Recompute(a))
	a.R.POST("/admin/sla/fix-breaches", FixBreaches(a))
	a.R.POST("/admin/sla/missed-first-responses", MissedFirstResponses(a))
	return a
}

func do(t *testing.T, a *apppkg.App, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	a.R.ServeHTTP(rr, req)
	return rr
}

func TestStatusReturnsClockAnswer(t *testing.T) {
	clk := &stubClock{status: &slapkg.StatusInfo{Status: slapkg.StatusWarning, PercentElapsed: 0.8}}
	a := newTestApp(clk, nil)

	rr := do(t, a, http.MethodGet, "/tickets/t-1/sla")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got slapkg.StatusInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != slapkg.StatusWarning {
		t.Fatalf("expected warning, got %s", got.Status)
	}
}

func TestPauseAndResume(t *testing.T) {
	clk := &stubClock{pt: &slapkg.PolicyTicket{ID: "pt-1", TicketID: "t-1"}}
	a := newTestApp(clk, nil)

	if rr := do(t, a, http.MethodPost, "/tickets/t-1/sla/pause"); rr.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rr.Code)
	}
	if rr := do(t, a, http.MethodPost, "/tickets/t-1/sla/resume"); rr.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rr.Code)
	}
	if len(clk.paused) != 1 || clk.paused[0] != "t-1" {
		t.Fatalf("expected one pause for t-1, got %v", clk.paused)
	}
	if len(clk.resumed) != 1 {
		t.Fatalf("expected one resume, got %v", clk.resumed)
	}
}

func TestPauseErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{slapkg.ErrNotAssigned, http.StatusNotFound},
		{slapkg.ErrTicketNotFound, http.StatusNotFound},
		{slapkg.ErrAlreadyPaused, http.StatusConflict},
		{slapkg.ErrNotPaused, http.StatusConflict},
	}
	for _, tc := range cases {
		a := newTestApp(&stubClock{err: tc.err}, nil)
		rr := do(t, a, http.MethodPost, "/tickets/t-1/sla/pause")
		if rr.Code != tc.code {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.code, rr.Code)
		}
	}
}

func TestStatusNotAssignedIsDistinctError(t *testing.T) {
	a := newTestApp(&stubClock{err: slapkg.ErrNotAssigned}, nil)
	rr := do(t, a, http.MethodGet, "/tickets/t-9/sla")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Code != "sla_not_assigned" {
		t.Fatalf("expected sla_not_assigned, got %q", env.Error.Code)
	}
}

func TestFixBreachesUsesConfiguredLimit(t *testing.T) {
	fx := &stubFixer{fixed: 3}
	a := newTestApp(nil, fx)

	rr := do(t, a, http.MethodPost, "/admin/sla/fix-breaches")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["fixed"] != 3 {
		t.Fatalf("expected fixed=3, got %v", body)
	}
	if len(fx.limits) != 1 || fx.limits[0] != 500 {
		t.Fatalf("expected default limit 500, got %v", fx.limits)
	}
}

func TestSweepLimitOverride(t *testing.T) {
	fx := &stubFixer{backfill: 2}
	a := newTestApp(nil, fx)

	rr := do(t, a, http.MethodPost, "/admin/sla/missed-first-responses?limit=25")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(fx.limits) != 1 || fx.limits[0] != 25 {
		t.Fatalf("expected limit 25, got %v", fx.limits)
	}
}
