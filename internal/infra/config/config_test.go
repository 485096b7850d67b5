package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Routing.Strategy != "context_aware" {
		t.Errorf("Routing.Strategy = %q, want context_aware", cfg.Routing.Strategy)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Orchestrator.PhaseTimeout != 30*time.Minute {
		t.Errorf("PhaseTimeout = %v, want 30m", cfg.Orchestrator.PhaseTimeout)
	}
	if len(cfg.Agents) == 0 {
		t.Error("expected a default agent roster")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.Workers != 4 {
		t.Errorf("expected defaults, got Workers=%d", cfg.Orchestrator.Workers)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logger:
  level: "debug"
storage:
  backend: "sqlite"
  path: "/tmp/agentroute-test.db"
  retention: 48h
routing:
  strategy: "best_match"
  fallback: ["round_robin"]
  default_agent: "solo"
orchestrator:
  phase_timeout: 90s
  workers: 2
agents:
  - name: "solo"
    capabilities: ["go"]
    max_concurrent: 1
quality_gates:
  - name: "code_review"
    threshold: 0.9
    blocking: true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Retention != 48*time.Hour {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Routing.Strategy != "best_match" || len(cfg.Routing.Fallback) != 1 {
		t.Errorf("Routing = %+v", cfg.Routing)
	}
	if cfg.Orchestrator.PhaseTimeout != 90*time.Second || cfg.Orchestrator.Workers != 2 {
		t.Errorf("Orchestrator = %+v", cfg.Orchestrator)
	}
	// Untouched sections keep defaults.
	if cfg.Orchestrator.QueueSize != 64 {
		t.Errorf("QueueSize = %d, want default 64", cfg.Orchestrator.QueueSize)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "solo" {
		t.Errorf("agents should replace defaults, got %+v", cfg.Agents)
	}
	if len(cfg.QualityGates) != 1 || cfg.QualityGates[0].Threshold != 0.9 {
		t.Errorf("quality gates should replace defaults, got %+v", cfg.QualityGates)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logger: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadInvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("routing:\n  strategy: fastest\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	assertContains(t, ve.Error(), `routing.strategy "fastest" is unknown`)
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{0600, false},
		{0644, false},
		{0640, false},
		{0660, true},
		{0666, true},
		{0602, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, "perm.yaml")
		if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, tt.mode); err != nil {
			t.Fatal(err)
		}
		err := validatePermissions(path)
		if (err != nil) != tt.wantErr {
			t.Errorf("mode %o: err = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
		os.Remove(path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTROUTE_LOGGER_LEVEL", "debug")
	t.Setenv("AGENTROUTE_TRACER_ENABLED", "true")
	t.Setenv("AGENTROUTE_STORAGE_BACKEND", "sqlite")
	t.Setenv("AGENTROUTE_STORAGE_RETENTION", "72h")
	t.Setenv("AGENTROUTE_ROUTING_STRATEGY", "round_robin")
	t.Setenv("AGENTROUTE_ROUTING_FALLBACK", "best_match, load_balanced ,")
	t.Setenv("AGENTROUTE_ORCHESTRATOR_PHASE_TIMEOUT", "5m")
	t.Setenv("AGENTROUTE_ORCHESTRATOR_WORKERS", "8")
	t.Setenv("AGENTROUTE_EXECUTOR_RATE_LIMIT", "2.5")
	t.Setenv("AGENTROUTE_SERVER_ADDR", ":9000")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if !cfg.Tracer.Enabled {
		t.Error("Tracer.Enabled should be true")
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Retention != 72*time.Hour {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Routing.Strategy != "round_robin" {
		t.Errorf("Routing.Strategy = %q", cfg.Routing.Strategy)
	}
	if len(cfg.Routing.Fallback) != 2 || cfg.Routing.Fallback[1] != "load_balanced" {
		t.Errorf("Routing.Fallback = %q", cfg.Routing.Fallback)
	}
	if cfg.Orchestrator.PhaseTimeout != 5*time.Minute || cfg.Orchestrator.Workers != 8 {
		t.Errorf("Orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Executor.RateLimit != 2.5 {
		t.Errorf("Executor.RateLimit = %v", cfg.Executor.RateLimit)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestEnvOverridesIgnoreMalformedNumbers(t *testing.T) {
	t.Setenv("AGENTROUTE_ORCHESTRATOR_WORKERS", "many")
	t.Setenv("AGENTROUTE_ORCHESTRATOR_PHASE_TIMEOUT", "soon")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Orchestrator.Workers != 4 || cfg.Orchestrator.PhaseTimeout != 30*time.Minute {
		t.Errorf("malformed values should be ignored, got %+v", cfg.Orchestrator)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("s3cret-token", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(enc, "s3cret-token") {
		t.Fatal("ciphertext contains plaintext")
	}
	got, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "s3cret-token" {
		t.Errorf("got %q", got)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("value", "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := map[string]string{
		"no separator":   "abcdef",
		"bad salt":       "zz:00",
		"bad ciphertext": "00:zz",
		"too short":      "00112233445566778899aabbccddeeff:00",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecryptValue(in, "pass"); err == nil {
				t.Fatalf("expected error for %q", in)
			}
		})
	}
}

func TestLoadWithMasterKey(t *testing.T) {
	enc, err := EncryptValue("bearer-xyz", "master")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "executor:\n  type: http\n  url: http://localhost:9999\n  token: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(MasterKeyEnv, "master")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Executor.Token != "bearer-xyz" {
		t.Errorf("Token = %q, want decrypted", cfg.Executor.Token)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "executor:\n  token: \"enc:00:00\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(MasterKeyEnv, "master")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "decrypt secrets") {
		t.Fatalf("expected decrypt error, got %v", err)
	}
}

func TestDecryptSecretsPlainTokenUntouched(t *testing.T) {
	cfg := Defaults()
	cfg.Executor.Token = "plain"
	if err := decryptSecrets(cfg, "master"); err != nil {
		t.Fatal(err)
	}
	if cfg.Executor.Token != "plain" {
		t.Errorf("Token = %q", cfg.Executor.Token)
	}
}
