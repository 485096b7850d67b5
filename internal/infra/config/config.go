package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// MasterKeyEnv names the env var holding the passphrase for "enc:" values.
const MasterKeyEnv = "AGENTROUTE_MASTER_KEY"

// EncPrefix marks an encrypted config value.
const EncPrefix = "enc:"

// Config is the top-level application configuration.
type Config struct {
	Logger       LoggerConfig        `yaml:"logger"`
	Tracer       TracerConfig        `yaml:"tracer"`
	Storage      StorageConfig       `yaml:"storage"`
	Routing      RoutingConfig       `yaml:"routing"`
	Orchestrator OrchestratorConfig  `yaml:"orchestrator"`
	Executor     ExecutorConfig      `yaml:"executor"`
	Agents       []AgentConfig       `yaml:"agents"`
	QualityGates []QualityGateConfig `yaml:"quality_gates"`
	Templates    TemplatesConfig     `yaml:"templates"`
	Scheduler    SchedulerConfig     `yaml:"scheduler"`
	Server       ServerConfig        `yaml:"server"`
	Includes     []string            `yaml:"includes,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`     // "noop", "stdout" or "file"
	Path        string  `yaml:"path"`         // span output for the file exporter
	SampleRatio float64 `yaml:"sample_ratio"` // 0 or >= 1 samples everything
}

// StorageConfig selects and configures the workflow store.
type StorageConfig struct {
	Backend   string        `yaml:"backend"` // "file" or "sqlite"
	Dir       string        `yaml:"dir"`     // file backend root
	Path      string        `yaml:"path"`    // sqlite database file
	Retention time.Duration `yaml:"retention"`
}

// RoutingConfig holds router strategy and context tables.
type RoutingConfig struct {
	Strategy        string              `yaml:"strategy"`
	Fallback        []string            `yaml:"fallback"`
	DefaultAgent    string              `yaml:"default_agent"`
	MaxSuggestions  int                 `yaml:"max_suggestions"`
	PreferredAgents map[string][]string `yaml:"preferred_agents,omitempty"` // task type -> agents
	Affinity        map[string][]string `yaml:"affinity,omitempty"`         // agent -> successors
}

// OrchestratorConfig holds workflow execution settings.
type OrchestratorConfig struct {
	PhaseTimeout time.Duration `yaml:"phase_timeout"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
}

// BreakerConfig holds per-agent circuit breaker settings.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ExecutorConfig selects how phases are delegated to agents.
type ExecutorConfig struct {
	Type      string        `yaml:"type"` // "dryrun" or "http"
	URL       string        `yaml:"url"`
	Token     string        `yaml:"token"` // may be "enc:..."
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // dispatches per second, 0 = unlimited
	Burst     int           `yaml:"burst"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// AgentConfig defines one agent in the directory.
type AgentConfig struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	Capabilities     []string `yaml:"capabilities"`
	MaxConcurrent    int      `yaml:"max_concurrent"`
	AvgResponseHours float64  `yaml:"avg_response_hours"`
	SuccessRate      float64  `yaml:"success_rate"`
}

// QualityGateConfig defines one quality gate.
type QualityGateConfig struct {
	Name                string  `yaml:"name"`
	Threshold           float64 `yaml:"threshold"`
	EvaluatorCapability string  `yaml:"evaluator_capability"`
	Blocking            bool    `yaml:"blocking"`
}

// TemplatesConfig points at extra workflow templates.
type TemplatesConfig struct {
	Dir string `yaml:"dir"`
}

// SchedulerConfig holds maintenance job schedules, as cron expressions or Go durations.
type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
	HealthSchedule  string `yaml:"health_schedule"`
	ResumeSchedule  string `yaml:"resume_schedule"` // retries workflows left RUNNING with a deferred phase
}

// ServerConfig holds REST API settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	Token          string   `yaml:"token"` // bearer token, may be "enc:..."; empty disables auth
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// defaultDataDir returns the data directory under $HOME/.agentroute.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agentroute")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Storage: StorageConfig{
			Backend:   "file",
			Dir:       filepath.Join(dataDir, "workflows"),
			Path:      filepath.Join(dataDir, "agentroute.db"),
			Retention: 30 * 24 * time.Hour,
		},
		Routing: RoutingConfig{
			Strategy:       "context_aware",
			Fallback:       []string{"load_balanced", "round_robin"},
			DefaultAgent:   "general-purpose",
			MaxSuggestions: 10,
		},
		Orchestrator: OrchestratorConfig{
			PhaseTimeout: 30 * time.Minute,
			Workers:      4,
			QueueSize:    64,
		},
		Executor: ExecutorConfig{
			Type:    "dryrun",
			Timeout: 10 * time.Minute,
			Burst:   1,
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     60 * time.Second,
				Interval:    0,
			},
		},
		Agents: DefaultAgents(),
		QualityGates: []QualityGateConfig{
			{Name: "code_review", Threshold: 0.8, EvaluatorCapability: "code-review", Blocking: true},
			{Name: "security_scan", Threshold: 0.9, EvaluatorCapability: "security", Blocking: true},
			{Name: "testing", Threshold: 0.8, EvaluatorCapability: "testing", Blocking: false},
			{Name: "performance", Threshold: 0.7, EvaluatorCapability: "performance", Blocking: false},
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			CleanupSchedule: "0 3 * * *",
			HealthSchedule:  "*/5 * * * *",
			ResumeSchedule:  "1m",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8420",
			RequestsPerMin: 600,
			Burst:          50,
		},
	}
}

// DefaultAgents returns the built-in agent roster.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{Name: "general-purpose", Capabilities: []string{"general", "research", "planning", "documentation"}, MaxConcurrent: 5},
		{Name: "backend-developer", Capabilities: []string{"backend", "api", "server", "go", "database", "implement"}, MaxConcurrent: 3},
		{Name: "frontend-developer", Capabilities: []string{"frontend", "ui", "react", "css", "component"}, MaxConcurrent: 3},
		{Name: "fullstack-developer", Capabilities: []string{"fullstack", "feature", "frontend", "backend", "api"}, MaxConcurrent: 3},
		{Name: "test-engineer", Capabilities: []string{"test", "testing", "qa", "coverage", "regression"}, MaxConcurrent: 3},
		{Name: "debugger", Capabilities: []string{"bug", "fix", "debug", "crash", "error"}, MaxConcurrent: 2},
		{Name: "code-reviewer", Capabilities: []string{"review", "code review", "quality", "refactor"}, MaxConcurrent: 4},
		{Name: "devops-engineer", Capabilities: []string{"deploy", "ci/cd", "docker", "kubernetes", "pipeline", "infrastructure"}, MaxConcurrent: 2},
		{Name: "cloud-architect", Capabilities: []string{"cloud", "architecture", "infrastructure", "terraform", "aws"}, MaxConcurrent: 2},
		{Name: "security-auditor", Capabilities: []string{"security", "audit", "vulnerability", "auth", "compliance"}, MaxConcurrent: 2},
		{Name: "data-engineer", Capabilities: []string{"data", "etl", "pipeline", "warehouse", "migration"}, MaxConcurrent: 2},
		{Name: "data-scientist", Capabilities: []string{"analysis", "analytics", "model", "statistics", "report"}, MaxConcurrent: 2},
		{Name: "technical-writer", Capabilities: []string{"documentation", "docs", "guide", "readme"}, MaxConcurrent: 3},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// Sequences (agents, quality_gates) replace the defaults; mappings merge.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass so the main file takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(MasterKeyEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps AGENTROUTE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTROUTE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTROUTE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTROUTE_TRACER_ENABLED"); v != "" {
		cfg.Tracer.Enabled = v == "true"
	}
	if v := os.Getenv("AGENTROUTE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("AGENTROUTE_TRACER_PATH"); v != "" {
		cfg.Tracer.Path = v
	}
	if v := os.Getenv("AGENTROUTE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("AGENTROUTE_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("AGENTROUTE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("AGENTROUTE_STORAGE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.Retention = d
		}
	}
	if v := os.Getenv("AGENTROUTE_ROUTING_STRATEGY"); v != "" {
		cfg.Routing.Strategy = v
	}
	if v := os.Getenv("AGENTROUTE_ROUTING_FALLBACK"); v != "" {
		cfg.Routing.Fallback = splitAndTrim(v, ",")
	}
	if v := os.Getenv("AGENTROUTE_ROUTING_DEFAULT_AGENT"); v != "" {
		cfg.Routing.DefaultAgent = v
	}
	if v := os.Getenv("AGENTROUTE_ORCHESTRATOR_PHASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.PhaseTimeout = d
		}
	}
	if v := os.Getenv("AGENTROUTE_ORCHESTRATOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.Workers = n
		}
	}
	if v := os.Getenv("AGENTROUTE_EXECUTOR_TYPE"); v != "" {
		cfg.Executor.Type = v
	}
	if v := os.Getenv("AGENTROUTE_EXECUTOR_URL"); v != "" {
		cfg.Executor.URL = v
	}
	if v := os.Getenv("AGENTROUTE_EXECUTOR_TOKEN"); v != "" {
		cfg.Executor.Token = v
	}
	if v := os.Getenv("AGENTROUTE_EXECUTOR_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Executor.RateLimit = f
		}
	}
	if v := os.Getenv("AGENTROUTE_TEMPLATES_DIR"); v != "" {
		cfg.Templates.Dir = v
	}
	if v := os.Getenv("AGENTROUTE_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = v == "true"
	}
	if v := os.Getenv("AGENTROUTE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AGENTROUTE_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
}

// splitAndTrim splits s by sep, trims each element and drops empties.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "enc:..." values with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Executor.Token, EncPrefix) {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Executor.Token, EncPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("executor token: %w", err)
		}
		cfg.Executor.Token = decrypted
	}
	if strings.HasPrefix(cfg.Server.Token, EncPrefix) {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Server.Token, EncPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("server token: %w", err)
		}
		cfg.Server.Token = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
