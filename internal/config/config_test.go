package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHECKIN_OPENS_BEFORE", "")
	t.Setenv("CHECKIN_CLOSES_AFTER", "")
	t.Setenv("FACE_SKIP", "")

	cfg := Load()
	if cfg.CheckInOpensBefore != 30*time.Minute || cfg.CheckInClosesAfter != 15*time.Minute {
		t.Errorf("unexpected default offsets %s / %s", cfg.CheckInOpensBefore, cfg.CheckInClosesAfter)
	}
	if !cfg.FaceSkip {
		t.Error("face verification should be skipped by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHECKIN_OPENS_BEFORE", "45m")
	t.Setenv("CHECKIN_CLOSES_AFTER", "not-a-duration")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("FACE_SKIP", "0")
	t.Setenv("ORGANIZATION_ID", "org-42")

	cfg := Load()
	if cfg.CheckInOpensBefore != 45*time.Minute {
		t.Errorf("opens before = %s, want 45m", cfg.CheckInOpensBefore)
	}
	if cfg.CheckInClosesAfter != 15*time.Minute {
		t.Errorf("invalid duration should fall back, got %s", cfg.CheckInClosesAfter)
	}
	if cfg.RateLimitPerMin != 30 || cfg.FaceSkip || cfg.OrganizationID != "org-42" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	if loc := (App{Timezone: "Mars/Olympus"}).Location(); loc != time.UTC {
		t.Errorf("expected UTC, got %s", loc)
	}
}
