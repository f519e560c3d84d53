package entry

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/mmynk/walktracker/internal/models"
)

var (
	t0    = time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	alice = models.User{Email: "alice@example.com", Name: "Alice"}
	bob   = models.User{Email: "bob@example.com", Name: "Bob"}
)

func ptr[T any](v T) *T { return &v }

func TestStart(t *testing.T) {
	e := Start(t0)

	if e.Status != models.StatusActive || e.Mode != models.ModeAuto || e.Location != models.LocationOutside {
		t.Fatalf("Start() = %s/%s/%s, want active/auto/outside", e.Status, e.Mode, e.Location)
	}
	if !e.StartTime.Equal(t0) {
		t.Errorf("StartTime = %v, want %v", e.StartTime, t0)
	}
	if len(e.Users) != 0 {
		t.Errorf("expected no users, got %d", len(e.Users))
	}
	if e.EndTime != nil {
		t.Error("expected no end time on an active entry")
	}
	if err := Validate(e); err != nil {
		t.Errorf("Validate(Start()) = %v", err)
	}
}

func TestAppendUser(t *testing.T) {
	t.Run("same user twice is idempotent", func(t *testing.T) {
		e := Start(t0)
		e, err := AppendUser(e, alice)
		if err != nil {
			t.Fatalf("AppendUser failed: %v", err)
		}
		e, err = AppendUser(e, alice)
		if err != nil {
			t.Fatalf("AppendUser failed: %v", err)
		}
		if len(e.Users) != 1 {
			t.Errorf("expected 1 user, got %d", len(e.Users))
		}
	})

	t.Run("order of appends does not matter", func(t *testing.T) {
		ab, _ := AppendUser(Start(t0), alice)
		ab, _ = AppendUser(ab, bob)
		ba, _ := AppendUser(Start(t0), bob)
		ba, _ = AppendUser(ba, alice)

		if len(ab.Users) != 2 || len(ba.Users) != 2 {
			t.Fatalf("expected 2 users each, got %d and %d", len(ab.Users), len(ba.Users))
		}
		for _, u := range []models.User{alice, bob} {
			if !ab.HasUser(u.Email) || !ba.HasUser(u.Email) {
				t.Errorf("missing %s", u.Email)
			}
		}
	})

	t.Run("rejected on completed entry", func(t *testing.T) {
		done, err := Finish(Start(t0), FinishInput{EndTime: t0.Add(10 * time.Minute)})
		if err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
		if _, err := AppendUser(done, alice); !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		_, err := AppendUser(Start(t0), models.User{Email: "nope", Name: "Nope"})
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("does not mutate input", func(t *testing.T) {
		e := Start(t0)
		if _, err := AppendUser(e, alice); err != nil {
			t.Fatalf("AppendUser failed: %v", err)
		}
		if len(e.Users) != 0 {
			t.Errorf("input entry was mutated: %v", e.Users)
		}
	})
}

func TestFinish(t *testing.T) {
	inside := models.LocationInside

	tests := []struct {
		name     string
		in       FinishInput
		wantErr  bool
		validate func(t *testing.T, e models.Entry)
	}{
		{
			name: "completes outside with end time",
			in:   FinishInput{EndTime: t0.Add(25 * time.Minute), Pees: 2, Poops: 1},
			validate: func(t *testing.T, e models.Entry) {
				if e.Status != models.StatusCompleted {
					t.Errorf("status = %s, want completed", e.Status)
				}
				if e.EndTime == nil || !e.EndTime.Equal(t0.Add(25*time.Minute)) {
					t.Errorf("EndTime = %v, want %v", e.EndTime, t0.Add(25*time.Minute))
				}
				if e.Pees != 2 || e.Poops != 1 {
					t.Errorf("counts = %d/%d, want 2/1", e.Pees, e.Poops)
				}
			},
		},
		{
			name: "auto entry ignores inside location",
			in:   FinishInput{EndTime: t0.Add(5 * time.Minute), Location: &inside},
			validate: func(t *testing.T, e models.Entry) {
				if e.Location != models.LocationOutside {
					t.Errorf("location = %s, want outside", e.Location)
				}
				if e.EndTime == nil {
					t.Error("expected end time to be kept")
				}
			},
		},
		{
			name: "replaces users when supplied",
			in:   FinishInput{EndTime: t0.Add(time.Minute), Users: []models.User{bob, bob}},
			validate: func(t *testing.T, e models.Entry) {
				if len(e.Users) != 1 || e.Users[0].Email != bob.Email {
					t.Errorf("users = %v, want [bob]", e.Users)
				}
			},
		},
		{
			name:    "end before start",
			in:      FinishInput{EndTime: t0.Add(-time.Minute)},
			wantErr: true,
		},
		{
			name:    "negative pees",
			in:      FinishInput{EndTime: t0.Add(time.Minute), Pees: -1},
			wantErr: true,
		},
		{
			name:    "negative poops",
			in:      FinishInput{EndTime: t0.Add(time.Minute), Poops: -3},
			wantErr: true,
		},
		{
			name:    "missing end time",
			in:      FinishInput{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, _ := AppendUser(Start(t0), alice)
			got, err := Finish(start, tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Finish() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, models.ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				if got.Status != models.StatusActive || got.EndTime != nil {
					t.Errorf("entry changed on failure: %+v", got)
				}
				return
			}
			if tt.validate != nil {
				tt.validate(t, got)
			}
		})
	}
}

func TestAddManual(t *testing.T) {
	end := t0.Add(30 * time.Minute)
	before := t0.Add(-time.Minute)

	tests := []struct {
		name    string
		in      ManualInput
		wantErr bool
		wantEnd bool
	}{
		{"outside with end time", ManualInput{StartTime: t0, EndTime: &end, Location: models.LocationOutside, Pees: 1}, false, true},
		{"inside drops end time", ManualInput{StartTime: t0, EndTime: &end, Location: models.LocationInside, Poops: 1}, false, false},
		{"inside without end time", ManualInput{StartTime: t0, Location: models.LocationInside}, false, false},
		{"outside requires end time", ManualInput{StartTime: t0, Location: models.LocationOutside}, true, false},
		{"end before start", ManualInput{StartTime: t0, EndTime: &before, Location: models.LocationOutside}, true, false},
		{"unknown location", ManualInput{StartTime: t0, Location: "garden"}, true, false},
		{"negative count", ManualInput{StartTime: t0, Location: models.LocationInside, Pees: -1}, true, false},
		{"missing start time", ManualInput{EndTime: &end, Location: models.LocationOutside}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddManual(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddManual() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, models.ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if got.Status != models.StatusCompleted || got.Mode != models.ModeManual {
				t.Errorf("got %s/%s, want completed/manual", got.Status, got.Mode)
			}
			if (got.EndTime != nil) != tt.wantEnd {
				t.Errorf("EndTime = %v, wantEnd %v", got.EndTime, tt.wantEnd)
			}
		})
	}
}

func TestEditCompleted(t *testing.T) {
	end := t0.Add(20 * time.Minute)
	manual, err := AddManual(ManualInput{StartTime: t0, EndTime: &end, Location: models.LocationOutside})
	if err != nil {
		t.Fatalf("AddManual failed: %v", err)
	}

	t.Run("moving inside drops end time", func(t *testing.T) {
		got, err := EditCompleted(manual, models.EntryPatch{Location: ptr(models.LocationInside)})
		if err != nil {
			t.Fatalf("EditCompleted failed: %v", err)
		}
		if got.EndTime != nil {
			t.Errorf("expected end time dropped, got %v", got.EndTime)
		}
		if got.Status != models.StatusCompleted || got.Mode != models.ModeManual {
			t.Errorf("status/mode changed: %s/%s", got.Status, got.Mode)
		}
	})

	t.Run("end before start rejected", func(t *testing.T) {
		_, err := EditCompleted(manual, models.EntryPatch{EndTime: ptr(t0.Add(-time.Hour))})
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("negative count rejected", func(t *testing.T) {
		_, err := EditCompleted(manual, models.EntryPatch{Poops: ptr(-1)})
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("auto entry stays outside", func(t *testing.T) {
		auto, err := Finish(Start(t0), FinishInput{EndTime: end})
		if err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
		got, err := EditCompleted(auto, models.EntryPatch{Location: ptr(models.LocationInside), Pees: ptr(4)})
		if err != nil {
			t.Fatalf("EditCompleted failed: %v", err)
		}
		if got.Location != models.LocationOutside || got.EndTime == nil {
			t.Errorf("auto entry moved inside: %s end=%v", got.Location, got.EndTime)
		}
		if got.Pees != 4 {
			t.Errorf("pees = %d, want 4", got.Pees)
		}
	})

	t.Run("rejected on active entry", func(t *testing.T) {
		_, err := EditCompleted(Start(t0), models.EntryPatch{Pees: ptr(1)})
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	end := t0.Add(time.Minute)

	tests := []struct {
		name  string
		entry models.Entry
		field string
	}{
		{"auto inside", models.Entry{Type: models.EntryType, StartTime: t0, Status: models.StatusActive, Mode: models.ModeAuto, Location: models.LocationInside}, "location"},
		{"active with end", models.Entry{Type: models.EntryType, StartTime: t0, EndTime: &end, Status: models.StatusActive, Mode: models.ModeAuto, Location: models.LocationOutside}, "endTime"},
		{"manual active", models.Entry{Type: models.EntryType, StartTime: t0, Status: models.StatusActive, Mode: models.ModeManual, Location: models.LocationInside}, "status"},
		{"bad status", models.Entry{Type: models.EntryType, StartTime: t0, Status: "paused", Mode: models.ModeAuto, Location: models.LocationOutside}, "status"},
		{"negative pees", models.Entry{Type: models.EntryType, StartTime: t0, Status: models.StatusActive, Mode: models.ModeAuto, Location: models.LocationOutside, Pees: -1}, "pees"},
		{"wrong type", models.Entry{Type: "user", StartTime: t0, Status: models.StatusActive, Mode: models.ModeAuto, Location: models.LocationOutside}, "type"},
		{"duplicate users", models.Entry{Type: models.EntryType, StartTime: t0, Status: models.StatusActive, Mode: models.ModeAuto, Location: models.LocationOutside, Users: []models.User{alice, alice}}, "users"},
		{"bad user email", models.Entry{Type: models.EntryType, StartTime: t0, Status: models.StatusActive, Mode: models.ModeAuto, Location: models.LocationOutside, Users: []models.User{{Email: "x"}}}, "users[0].email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.entry)
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q (%v)", verr.Field, tt.field, err)
			}
		})
	}
}

// TestAutoAlwaysOutside drives random transition sequences and checks the
// auto-implies-outside invariant after every accepted step.
func TestAutoAlwaysOutside(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	locations := []models.Location{models.LocationInside, models.LocationOutside}
	users := []models.User{alice, bob}

	for run := 0; run < 200; run++ {
		e := Start(t0)
		for step := 0; step < 8; step++ {
			loc := locations[rng.Intn(2)]
			var next models.Entry
			var err error
			switch rng.Intn(3) {
			case 0:
				next, err = AppendUser(e, users[rng.Intn(2)])
			case 1:
				next, err = Finish(e, FinishInput{
					EndTime:  e.StartTime.Add(time.Duration(rng.Intn(60)-10) * time.Minute),
					Pees:     rng.Intn(4) - 1,
					Location: &loc,
				})
			case 2:
				next, err = EditCompleted(e, models.EntryPatch{Location: &loc, Poops: ptr(rng.Intn(3))})
			}
			if err == nil {
				e = next
			}
			if e.Mode == models.ModeAuto && e.Location != models.LocationOutside {
				t.Fatalf("run %d step %d: auto entry at %s", run, step, e.Location)
			}
			if err := Validate(e); err != nil {
				t.Fatalf("run %d step %d: reachable entry invalid: %v", run, step, err)
			}
		}
	}
}

func TestAmnesty(t *testing.T) {
	e := Start(t0)
	if !WithinAmnesty(e, t0.Add(30*time.Second)) {
		t.Error("expected entry under a minute old to be within amnesty")
	}
	if WithinAmnesty(e, t0.Add(2*time.Minute)) {
		t.Error("expected entry two minutes old to be outside amnesty")
	}
	if got := Age(e, t0.Add(90*time.Second)); got != 90*time.Second {
		t.Errorf("Age() = %v, want 90s", got)
	}
}
