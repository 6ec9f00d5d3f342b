package config

import "testing"

func TestModeSelectsDriverDefault(t *testing.T) {
	t.Setenv("MODE", "")
	t.Setenv("DB_DRIVER", "")

	cfg := FromEnv()
	if cfg.Mode != ModeOffline {
		t.Fatalf("mode = %q, want offline default", cfg.Mode)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("offline driver = %q, want sqlite", cfg.DBDriver)
	}

	t.Setenv("MODE", "online")
	if cfg = FromEnv(); cfg.DBDriver != "postgres" {
		t.Fatalf("online driver = %q, want postgres", cfg.DBDriver)
	}

	// An explicit driver wins over the mode default.
	t.Setenv("DB_DRIVER", "sqlite")
	if cfg = FromEnv(); cfg.DBDriver != "sqlite" {
		t.Fatalf("driver override = %q, want sqlite", cfg.DBDriver)
	}
}
