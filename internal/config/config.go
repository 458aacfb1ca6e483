// Package config builds the single configuration value a run uses.
//
// Sources, lowest precedence first:
//   - DefaultConfig()
//   - .bughunter/config.yaml under the project root
//   - .env in the project root, then ~/.bughunter/.env (never overriding real env vars)
//   - environment variables (ANTHROPIC_API_KEY, BUGHUNTER_*, AZURE_OPENAI_*)
//   - command line flags, applied by the caller before Validate
//
// No other package reads the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider names accepted in OracleConfig.Provider
const (
	ProviderAnthropic   = "anthropic"
	ProviderAzureOpenAI = "azure-openai"
)

// DirName is the per-project directory holding config, history and backups.
// Discovery always excludes it.
const DirName = ".bughunter"

// MaxFileSizeKBLimit is the largest accepted scan.max_file_size_kb. Larger
// files do not fit in one oracle prompt.
const MaxFileSizeKBLimit = 500

// Config holds all run configuration
type Config struct {
	Oracle  OracleConfig
	Scan    ScanConfig
	Risk    RiskConfig
	Report  ReportConfig
	AutoFix AutoFixConfig
	History HistoryConfig
	Budget  BudgetConfig
	Log     LogConfig
}

// OracleConfig configures the AI oracle client
type OracleConfig struct {
	Provider    string // anthropic (default) or azure-openai
	Model       string // Anthropic model name
	APIKey      string
	Endpoint    string // Azure OpenAI endpoint
	Deployment  string // Azure OpenAI deployment name
	MaxTokens   int
	Timeout     time.Duration // per attempt, including the startup connection test
	Temperature float64
	Environment string // environment label sent with every analysis request

	MaxRetries         int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	MaxConcurrentCalls int // 0 = unlimited
	RequestsPerMinute  int // 0 = unlimited

	CircuitBreakerEnabled bool
	FailureThreshold      int
	OpenTimeout           time.Duration
}

// ScanConfig configures discovery and the analysis orchestrator
type ScanConfig struct {
	MaxFileSizeKB     int
	Timeout           time.Duration // per oracle call
	Concurrency       int           // worker pool size
	ExcludePatterns   []string      // gitignore-style globs
	IncludeExtensions []string
	RespectGitignore  bool
}

// MaxFileSizeBytes returns the size ceiling in bytes.
func (s ScanConfig) MaxFileSizeBytes() int64 {
	return int64(s.MaxFileSizeKB) * 1024
}

// RiskWeights are the per-factor weights of the risk score
type RiskWeights struct {
	Severity       float64 `yaml:"severity"`
	Confidence     float64 `yaml:"confidence"`
	Exploitability float64 `yaml:"exploitability"`
	Impact         float64 `yaml:"impact"`
}

// Thresholds map a project score to a level
type Thresholds struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
}

// RiskConfig configures the risk scoring engine
type RiskConfig struct {
	Weights    RiskWeights
	Thresholds Thresholds
}

// ReportConfig configures report persistence
type ReportConfig struct {
	OutputDir string // where `scan --save` writes timestamped reports
}

// AutoFixConfig configures the fix reconciliation loop
type AutoFixConfig struct {
	Enabled             bool
	RequireConfirmation bool
	CreateBackup        bool
	BackupDir           string
	OnlySafe            bool // skip findings the oracle did not mark autoFixSafe
}

// HistoryConfig configures the SQLite run history
type HistoryConfig struct {
	Enabled       bool
	Path          string
	RetentionDays int // runs older than this are pruned; 0 keeps everything
}

// BudgetConfig caps oracle spending for one command invocation.
// A zero limit means unlimited.
type BudgetConfig struct {
	MaxTokens       int64   // input + output tokens
	MaxCostUSD      float64 // estimated from the per-token prices below
	AlertThreshold  float64 // fraction of a limit that triggers a warning
	InputTokenCost  float64 // USD per 1M input tokens
	OutputTokenCost float64 // USD per 1M output tokens
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level string
	JSON  bool
}

// DefaultExcludePatterns are dependency, build, VCS and bundled-asset globs.
var DefaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/dist/**",
	"**/build/**",
	"**/.git/**",
	"**/coverage/**",
	"**/vendor/**",
	"**/*.min.js",
	"**/*.bundle.js",
	"**/" + DirName + "/**",
}

// DefaultIncludeExtensions are the source extensions analyzed by default.
var DefaultIncludeExtensions = []string{
	".js", ".jsx", ".ts", ".tsx", ".py", ".java", ".go", ".rb",
	".php", ".cs", ".cpp", ".c", ".h",
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		Oracle: OracleConfig{
			Provider:              ProviderAnthropic,
			Model:                 "claude-sonnet-4-5-20250929",
			MaxTokens:             8192,
			Timeout:               2 * time.Minute,
			Temperature:           0.2,
			Environment:           "Production",
			MaxRetries:            3,
			InitialBackoff:        1 * time.Second,
			MaxBackoff:            30 * time.Second,
			MaxConcurrentCalls:    3,
			CircuitBreakerEnabled: true,
			FailureThreshold:      5,
			OpenTimeout:           30 * time.Second,
		},
		Scan: ScanConfig{
			MaxFileSizeKB:     500,
			Timeout:           30 * time.Second,
			Concurrency:       3,
			ExcludePatterns:   append([]string(nil), DefaultExcludePatterns...),
			IncludeExtensions: append([]string(nil), DefaultIncludeExtensions...),
			RespectGitignore:  true,
		},
		Risk: RiskConfig{
			Weights: RiskWeights{
				Severity:       0.4,
				Confidence:     0.3,
				Exploitability: 0.2,
				Impact:         0.1,
			},
			Thresholds: Thresholds{
				Critical: 90,
				High:     70,
				Medium:   40,
			},
		},
		Report: ReportConfig{
			OutputDir: "./reports",
		},
		AutoFix: AutoFixConfig{
			Enabled:             true,
			RequireConfirmation: true,
			CreateBackup:        true,
			BackupDir:           filepath.Join(DirName, "backups"),
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          filepath.Join(DirName, "history.db"),
			RetentionDays: 90,
		},
		Budget: BudgetConfig{
			AlertThreshold:  0.8,
			InputTokenCost:  3.00,
			OutputTokenCost: 15.00,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// GlobalEnvPath returns ~/.bughunter/.env, or "" if the home directory is unknown.
func GlobalEnvPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DirName, ".env")
}

// Load builds the configuration for a project root: defaults, config file, .env files
// and environment. The result is not validated; callers apply flags then call Validate.
func Load(projectRoot string) (*Config, error) {
	cfg, err := LoadConfigFile(projectRoot)
	if err != nil {
		return nil, err
	}

	if err := loadEnvFiles(filepath.Join(projectRoot, ".env"), GlobalEnvPath()); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads each existing file in order. godotenv.Load never overrides
// variables that are already set, so earlier files win over later ones.
func loadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides configuration from environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("BUGHUNTER_PROVIDER"); ok {
		c.Oracle.Provider = v
	}
	if v, ok := get("BUGHUNTER_MODEL"); ok {
		c.Oracle.Model = v
	}
	if v, ok := get("BUGHUNTER_ENVIRONMENT"); ok {
		c.Oracle.Environment = v
	}

	switch c.Oracle.Provider {
	case ProviderAzureOpenAI:
		if v, ok := get("AZURE_OPENAI_API_KEY"); ok {
			c.Oracle.APIKey = v
		}
		if v, ok := get("AZURE_OPENAI_ENDPOINT"); ok {
			c.Oracle.Endpoint = v
		}
		if v, ok := get("AZURE_OPENAI_DEPLOYMENT"); ok {
			c.Oracle.Deployment = v
		}
	default:
		if v, ok := get("ANTHROPIC_API_KEY"); ok {
			c.Oracle.APIKey = v
		}
	}

	if v, ok := get("BUGHUNTER_MAX_FILE_SIZE_KB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BUGHUNTER_MAX_FILE_SIZE_KB %q: %w", v, err)
		}
		c.Scan.MaxFileSizeKB = n
	}
	if v, ok := get("BUGHUNTER_SCAN_TIMEOUT"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BUGHUNTER_SCAN_TIMEOUT %q: %w", v, err)
		}
		c.Scan.Timeout = d
	}
	if v, ok := get("BUGHUNTER_ORACLE_TIMEOUT"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BUGHUNTER_ORACLE_TIMEOUT %q: %w", v, err)
		}
		c.Oracle.Timeout = d
	}
	if v, ok := get("BUGHUNTER_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BUGHUNTER_CONCURRENCY %q: %w", v, err)
		}
		c.Scan.Concurrency = n
	}
	if v, ok := get("BUGHUNTER_MAX_TOKENS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BUGHUNTER_MAX_TOKENS %q: %w", v, err)
		}
		c.Budget.MaxTokens = n
	}
	if v, ok := get("BUGHUNTER_AUTO_APPROVE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BUGHUNTER_AUTO_APPROVE %q: %w", v, err)
		}
		c.AutoFix.RequireConfirmation = !b
	}
	if v, ok := get("BUGHUNTER_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return nil
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	switch c.Oracle.Provider {
	case ProviderAnthropic:
	case ProviderAzureOpenAI:
		if c.Oracle.Endpoint == "" {
			return fmt.Errorf("oracle endpoint is required for provider %s", ProviderAzureOpenAI)
		}
		if c.Oracle.Deployment == "" {
			return fmt.Errorf("oracle deployment is required for provider %s", ProviderAzureOpenAI)
		}
	default:
		return fmt.Errorf("unknown oracle provider %q (want %s or %s)",
			c.Oracle.Provider, ProviderAnthropic, ProviderAzureOpenAI)
	}
	if c.Oracle.MaxTokens <= 0 {
		return fmt.Errorf("oracle max_tokens must be positive (got %d)", c.Oracle.MaxTokens)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle timeout must be positive (got %v)", c.Oracle.Timeout)
	}
	if c.Oracle.MaxRetries < 0 {
		return fmt.Errorf("oracle max_retries cannot be negative")
	}
	if c.Oracle.RequestsPerMinute < 0 {
		return fmt.Errorf("oracle requests_per_minute cannot be negative")
	}

	if c.Scan.MaxFileSizeKB <= 0 {
		return fmt.Errorf("scan max_file_size_kb must be positive (got %d)", c.Scan.MaxFileSizeKB)
	}
	if c.Scan.MaxFileSizeKB > MaxFileSizeKBLimit {
		return fmt.Errorf("scan max_file_size_kb cannot exceed %d (got %d)", MaxFileSizeKBLimit, c.Scan.MaxFileSizeKB)
	}
	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan timeout must be positive (got %v)", c.Scan.Timeout)
	}
	if c.Scan.Concurrency < 1 {
		return fmt.Errorf("scan concurrency must be at least 1 (got %d)", c.Scan.Concurrency)
	}
	if len(c.Scan.IncludeExtensions) == 0 {
		return fmt.Errorf("scan include_extensions cannot be empty")
	}

	w := c.Risk.Weights
	for name, v := range map[string]float64{
		"severity":       w.Severity,
		"confidence":     w.Confidence,
		"exploitability": w.Exploitability,
		"impact":         w.Impact,
	} {
		if v < 0 {
			return fmt.Errorf("risk weight %s cannot be negative (got %v)", name, v)
		}
	}
	if w.Severity+w.Confidence+w.Exploitability+w.Impact == 0 {
		return fmt.Errorf("risk weights cannot all be zero")
	}

	t := c.Risk.Thresholds
	if !(t.Medium >= 0 && t.Medium <= t.High && t.High <= t.Critical && t.Critical <= 100) {
		return fmt.Errorf("risk thresholds must satisfy 0 <= medium <= high <= critical <= 100 (got %v/%v/%v)",
			t.Medium, t.High, t.Critical)
	}

	if c.AutoFix.CreateBackup && c.AutoFix.BackupDir == "" {
		return fmt.Errorf("autofix backup_dir is required when create_backup is enabled")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history retention_days cannot be negative (got %d)", c.History.RetentionDays)
	}

	b := c.Budget
	if b.MaxTokens < 0 || b.MaxCostUSD < 0 {
		return fmt.Errorf("budget limits cannot be negative")
	}
	if b.InputTokenCost < 0 || b.OutputTokenCost < 0 {
		return fmt.Errorf("budget token costs cannot be negative")
	}
	if b.AlertThreshold <= 0 || b.AlertThreshold > 1 {
		return fmt.Errorf("budget alert_threshold must be in (0, 1] (got %v)", b.AlertThreshold)
	}
	return nil
}

// Redacted returns a copy safe for display.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Oracle.APIKey != "" {
		key := cp.Oracle.APIKey
		if len(key) > 8 {
			cp.Oracle.APIKey = key[:4] + "..." + key[len(key)-4:]
		} else {
			cp.Oracle.APIKey = "***"
		}
	}
	return &cp
}

// ResolvePath makes p absolute relative to root unless it already is.
func ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
