package sla

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type rowFunc func(dest ...any) error

type fakeRow struct{ f rowFunc }

func (r fakeRow) Scan(dest ...any) error { return r.f(dest...) }

type fakeRows struct {
	data [][]any
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { return r.i < len(r.data) }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i]
	r.i++
	for i := range dest {
		switch d := dest[i].(type) {
		case *int:
			*d = row[i].(int)
		case *bool:
			*d = row[i].(bool)
		case *time.Time:
			*d = row[i].(time.Time)
		case *string:
			*d = row[i].(string)
		}
	}
	return nil
}

type fakeDB struct {
	tz       string
	hours    [][]any
	holidays [][]any
}

func (db fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if strings.Contains(sql, "from business_hours ") {
		return &fakeRows{data: db.hours}, nil
	}
	if strings.Contains(sql, "from holidays") {
		return &fakeRows{data: db.holidays}, nil
	}
	return &fakeRows{}, nil
}

func (db fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if strings.Contains(sql, "from business_hours_profiles") {
		return fakeRow{f: func(dest ...any) error {
			*(dest[0].(*string)) = "prof-1"
			*(dest[1].(*string)) = db.tz
			return nil
		}}
	}
	if strings.Contains(sql, "from sla_policies") {
		return fakeRow{f: func(dest ...any) error { return pgx.ErrNoRows }}
	}
	return fakeRow{f: func(dest ...any) error { return nil }}
}

func TestLoadCalendar(t *testing.T) {
	loc := "America/New_York"
	cases := []struct {
		name     string
		db       fakeDB
		validate func(t *testing.T, cal *Calendar)
	}{
		{
			name: "normalizes holidays to profile midnight",
			db: fakeDB{
				tz:    loc,
				hours: [][]any{{int(time.Monday), 9 * 3600, 17 * 3600}},
				holidays: [][]any{{
					time.Date(2024, 7, 4, 15, 30, 0, 0, time.UTC), // not midnight
					false,
				}},
			},
			validate: func(t *testing.T, cal *Calendar) {
				if len(cal.Holidays) != 1 {
					t.Fatalf("got %d holidays, want 1", len(cal.Holidays))
				}
				h := cal.Holidays[0]
				if h.Date.Hour() != 0 || h.Date.Location() != cal.Location {
					t.Fatalf("holiday not normalized: %v", h.Date)
				}
				if !cal.IsHoliday(time.Date(2024, 7, 4, 12, 0, 0, 0, cal.Location)) {
					t.Fatal("expected holiday match")
				}
			},
		},
		{
			name: "loads varying business hours",
			db: fakeDB{
				tz: loc,
				hours: [][]any{
					{int(time.Monday), 8 * 3600, 12 * 3600},
					{int(time.Tuesday), 10 * 3600, 15 * 3600},
				},
			},
			validate: func(t *testing.T, cal *Calendar) {
				if m := cal.Hours[time.Monday]; m.StartSec != 8*3600 || m.EndSec != 12*3600 {
					t.Fatalf("monday hours %+v", m)
				}
				if tu := cal.Hours[time.Tuesday]; tu.StartSec != 10*3600 || tu.EndSec != 15*3600 {
					t.Fatalf("tuesday hours %+v", tu)
				}
				if _, ok := cal.Hours[time.Wednesday]; ok {
					t.Fatal("wednesday should be closed")
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cal, err := LoadCalendar(context.Background(), tc.db, "org-1")
			if err != nil {
				t.Fatal(err)
			}
			tc.validate(t, cal)
		})
	}
}

func TestResolvePolicyNotFound(t *testing.T) {
	_, err := ResolvePolicy(context.Background(), fakeDB{}, "org-1", 3)
	if err != ErrPolicyNotFound {
		t.Fatalf("err = %v, want ErrPolicyNotFound", err)
	}
}

type spyDB struct {
	fakeDB
	queries []string
}

func (db *spyDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	db.queries = append(db.queries, sql)
	return db.fakeDB.Query(ctx, sql, args...)
}

func (db *spyDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

// Tickets carry a null sla_status until a policy is assigned; the sweep
// filter must treat null as not-paused or those tickets are never repaired.
func TestBreachCandidatesNullSafePauseFilter(t *testing.T) {
	db := &spyDB{}
	st := NewPgStore(db)
	if _, err := st.BreachCandidates(context.Background(), time.Now(), 10); err != nil {
		t.Fatal(err)
	}
	if len(db.queries) != 1 {
		t.Fatalf("got %d queries, want 1", len(db.queries))
	}
	if strings.Contains(db.queries[0], "<> 'paused'") {
		t.Fatalf("pause filter is not null-safe: %s", db.queries[0])
	}
	if !strings.Contains(db.queries[0], "is distinct from 'paused'") {
		t.Fatalf("pause filter missing: %s", db.queries[0])
	}
}
