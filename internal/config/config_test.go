package config

import "testing"

func TestValidateProductionRequiresDBPassword(t *testing.T) {
	cfg := &Config{
		Environment: EnvProduction,
		Engine:      EngineConfig{WorkerCount: 1, MaxQuoteAttempts: 5, MaxSendAttempts: 5},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when DB_PASSWORD is unset in production")
	}

	cfg.Database.Password = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected validation to pass once DB_PASSWORD is set, got: %v", err)
	}
}

func TestValidateRejectsZeroWorkerCount(t *testing.T) {
	cfg := &Config{
		Environment: EnvTest,
		Engine:      EngineConfig{WorkerCount: 0, MaxQuoteAttempts: 5, MaxSendAttempts: 5},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero worker count")
	}
}

func TestLoadDefaultsToProduction(t *testing.T) {
	cfg := Load()
	if cfg.Environment != EnvProduction {
		t.Fatalf("expected default environment production, got %s", cfg.Environment)
	}
	if cfg.Engine.WorkerCount < 1 {
		t.Fatalf("expected a positive default worker count, got %d", cfg.Engine.WorkerCount)
	}
}
