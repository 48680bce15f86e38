package config

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}

	if cfg.Port != 5002 {
		t.Errorf("expected default port 5002, got %d", cfg.Port)
	}
	if cfg.AllowedOrigin != "http://localhost:3000" {
		t.Errorf("unexpected default origin: %s", cfg.AllowedOrigin)
	}
	if cfg.APIBaseURL == "" {
		t.Error("expected a default API base URL")
	}
	if cfg.QueueName != "mcq:jobs" {
		t.Errorf("unexpected default queue name: %s", cfg.QueueName)
	}
	if cfg.AsyncEnabled() {
		t.Error("async mode should be off without REDIS_URL")
	}
	if cfg.RunHistoryEnabled() {
		t.Error("run history should be off without DATABASE_URL")
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DJANGO_API_BASE_URL", "http://records.internal/")
	t.Setenv("MCQ_PIPELINE_URL", "http://pipeline.internal/")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.APIBaseURL != "http://records.internal" {
		t.Errorf("expected trailing slash to be trimmed, got %s", cfg.APIBaseURL)
	}
	if cfg.PipelineURL != "http://pipeline.internal" {
		t.Errorf("expected trailing slash to be trimmed, got %s", cfg.PipelineURL)
	}
	if !cfg.AsyncEnabled() {
		t.Error("async mode should be on with REDIS_URL set")
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.WorkerConcurrency)
	}
}

func TestLoadConfigInvalidPort(t *testing.T) {
	t.Setenv("PORT", "70000")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected validation error for out-of-range port")
	}
}

func TestLoadConfigMalformedIntFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("malformed int should fall back to the default, got %v", err)
	}
	if cfg.Port != 5002 {
		t.Errorf("expected default port 5002, got %d", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing api base", func(c *Config) { c.APIBaseURL = "" }, true},
		{"missing pipeline url", func(c *Config) { c.PipelineURL = "" }, true},
		{"zero concurrency", func(c *Config) { c.WorkerConcurrency = 0 }, true},
		{"timeout below floor", func(c *Config) { c.ProcessingTimeout = 500 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Port:              5002,
				AllowedOrigin:     "http://localhost:3000",
				APIBaseURL:        "http://records.internal",
				PipelineURL:       "http://pipeline.internal",
				WorkerConcurrency: 4,
				ProcessingTimeout: 600000,
			}
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
		})
	}
}
