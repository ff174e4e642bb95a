package extension

import (
	"testing"
	"time"
)

func TestMergeWithDefaults(t *testing.T) {
	got := mergeWithDefaults(Config{BackfillInterval: -1, DefaultActor: "intake"})

	if got.BackfillInterval != -1 {
		t.Fatalf("BackfillInterval = %s, want explicit -1 kept", got.BackfillInterval)
	}
	if got.JobCacheTTL != 0 {
		t.Fatalf("JobCacheTTL = %s, want the cache off by default", got.JobCacheTTL)
	}
	if got.CreateRetries != 3 || got.LockTTL != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.DefaultActor != "intake" {
		t.Fatalf("DefaultActor = %q", got.DefaultActor)
	}
}

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name         string
		yaml         Config
		programmatic Config
		check        func(t *testing.T, c Config)
	}{
		{
			name:         "yaml wins for strings",
			yaml:         Config{DefaultActor: "yaml"},
			programmatic: Config{DefaultActor: "code"},
			check: func(t *testing.T, c Config) {
				if c.DefaultActor != "yaml" {
					t.Fatalf("DefaultActor = %q", c.DefaultActor)
				}
			},
		},
		{
			name:         "programmatic fills gaps",
			yaml:         Config{},
			programmatic: Config{RedisAddr: "localhost:6379", CreateRetries: 7},
			check: func(t *testing.T, c Config) {
				if c.RedisAddr != "localhost:6379" || c.CreateRetries != 7 {
					t.Fatalf("got %+v", c)
				}
			},
		},
		{
			name:         "programmatic disable migrate overrides",
			yaml:         Config{DisableMigrate: false},
			programmatic: Config{DisableMigrate: true},
			check: func(t *testing.T, c Config) {
				if !c.DisableMigrate {
					t.Fatal("DisableMigrate not carried over")
				}
			},
		},
		{
			name:         "yaml durations win",
			yaml:         Config{BackfillInterval: time.Minute},
			programmatic: Config{BackfillInterval: time.Second},
			check: func(t *testing.T, c Config) {
				if c.BackfillInterval != time.Minute {
					t.Fatalf("BackfillInterval = %s", c.BackfillInterval)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, mergeConfigurations(tt.yaml, tt.programmatic))
		})
	}
}
