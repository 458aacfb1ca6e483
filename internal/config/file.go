package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file inside DirName
const FileName = "config.yaml"

// ConfigFile represents the structure of .bughunter/config.yaml.
// Zero values mean "keep the default".
type ConfigFile struct {
	Oracle  OracleFileConfig  `yaml:"oracle"`
	Scan    ScanFileConfig    `yaml:"scan"`
	Risk    RiskFileConfig    `yaml:"risk"`
	Report  ReportFileConfig  `yaml:"report"`
	AutoFix AutoFixFileConfig `yaml:"autofix"`
	History HistoryFileConfig `yaml:"history"`
	Budget  BudgetFileConfig  `yaml:"budget"`
	Log     LogFileConfig     `yaml:"log"`
}

// OracleFileConfig defines oracle settings in the config file.
// API keys are deliberately absent: credentials come from the environment.
type OracleFileConfig struct {
	Provider           string   `yaml:"provider"`
	Model              string   `yaml:"model"`
	Endpoint           string   `yaml:"endpoint"`
	Deployment         string   `yaml:"deployment"`
	MaxTokens          int      `yaml:"max_tokens"`
	Timeout            string   `yaml:"timeout"` // per attempt, e.g. "2m"
	Temperature        *float64 `yaml:"temperature"`
	Environment        string   `yaml:"environment"`
	MaxRetries         *int     `yaml:"max_retries"`
	MaxConcurrentCalls *int     `yaml:"max_concurrent_calls"`
	RequestsPerMinute  *int     `yaml:"requests_per_minute"`
	CircuitBreaker     *bool    `yaml:"circuit_breaker"`
}

// ScanFileConfig defines discovery and orchestration settings in the config file.
type ScanFileConfig struct {
	MaxFileSizeKB     int      `yaml:"max_file_size_kb"`
	Timeout           string   `yaml:"timeout"` // Duration string like "30s", "2m"
	Concurrency       int      `yaml:"concurrency"`
	ExcludePatterns   []string `yaml:"exclude_patterns"`
	ExtraExcludes     []string `yaml:"extra_exclude_patterns"`
	IncludeExtensions []string `yaml:"include_extensions"`
	RespectGitignore  *bool    `yaml:"respect_gitignore"`
}

// RiskFileConfig defines scoring settings in the config file.
type RiskFileConfig struct {
	Weights    *RiskWeights `yaml:"weights"`
	Thresholds *Thresholds  `yaml:"thresholds"`
}

// ReportFileConfig defines report settings in the config file.
type ReportFileConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// AutoFixFileConfig defines fix loop settings in the config file.
type AutoFixFileConfig struct {
	Enabled             *bool  `yaml:"enabled"`
	RequireConfirmation *bool  `yaml:"require_confirmation"`
	CreateBackup        *bool  `yaml:"create_backup"`
	BackupDir           string `yaml:"backup_dir"`
	OnlySafe            *bool  `yaml:"only_safe"`
}

// HistoryFileConfig defines run history settings in the config file.
type HistoryFileConfig struct {
	Enabled       *bool  `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays *int   `yaml:"retention_days"`
}

// BudgetFileConfig defines spending limits in the config file.
type BudgetFileConfig struct {
	MaxTokens       *int64   `yaml:"max_tokens"`
	MaxCostUSD      *float64 `yaml:"max_cost_usd"`
	AlertThreshold  *float64 `yaml:"alert_threshold"`
	InputTokenCost  *float64 `yaml:"input_token_cost"`
	OutputTokenCost *float64 `yaml:"output_token_cost"`
}

// LogFileConfig defines logging settings in the config file.
type LogFileConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// FilePath returns the config file location for a project root
func FilePath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, FileName)
}

// LoadConfigFile loads .bughunter/config.yaml on top of the defaults.
// A missing file yields DefaultConfig().
func LoadConfigFile(projectRoot string) (*Config, error) {
	configPath := FilePath(projectRoot)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var configFile ConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return configFile.ToConfig()
}

// ToConfig converts a ConfigFile to a Config.
func (cf *ConfigFile) ToConfig() (*Config, error) {
	config := DefaultConfig()

	o := cf.Oracle
	if o.Provider != "" {
		config.Oracle.Provider = o.Provider
	}
	if o.Model != "" {
		config.Oracle.Model = o.Model
	}
	if o.Endpoint != "" {
		config.Oracle.Endpoint = o.Endpoint
	}
	if o.Deployment != "" {
		config.Oracle.Deployment = o.Deployment
	}
	if o.MaxTokens > 0 {
		config.Oracle.MaxTokens = o.MaxTokens
	}
	if o.Timeout != "" {
		d, err := parseDuration(o.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid oracle timeout %q: %w", o.Timeout, err)
		}
		config.Oracle.Timeout = d
	}
	if o.Temperature != nil {
		config.Oracle.Temperature = *o.Temperature
	}
	if o.Environment != "" {
		config.Oracle.Environment = o.Environment
	}
	if o.MaxRetries != nil {
		config.Oracle.MaxRetries = *o.MaxRetries
	}
	if o.MaxConcurrentCalls != nil {
		config.Oracle.MaxConcurrentCalls = *o.MaxConcurrentCalls
	}
	if o.RequestsPerMinute != nil {
		config.Oracle.RequestsPerMinute = *o.RequestsPerMinute
	}
	if o.CircuitBreaker != nil {
		config.Oracle.CircuitBreakerEnabled = *o.CircuitBreaker
	}

	s := cf.Scan
	if s.MaxFileSizeKB > 0 {
		config.Scan.MaxFileSizeKB = s.MaxFileSizeKB
	}
	if s.Timeout != "" {
		d, err := parseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid scan timeout: %w", err)
		}
		config.Scan.Timeout = d
	}
	if s.Concurrency > 0 {
		config.Scan.Concurrency = s.Concurrency
	}
	if len(s.ExcludePatterns) > 0 {
		config.Scan.ExcludePatterns = s.ExcludePatterns
	}
	config.Scan.ExcludePatterns = append(config.Scan.ExcludePatterns, s.ExtraExcludes...)
	if len(s.IncludeExtensions) > 0 {
		config.Scan.IncludeExtensions = s.IncludeExtensions
	}
	if s.RespectGitignore != nil {
		config.Scan.RespectGitignore = *s.RespectGitignore
	}

	if cf.Risk.Weights != nil {
		config.Risk.Weights = *cf.Risk.Weights
	}
	if cf.Risk.Thresholds != nil {
		config.Risk.Thresholds = *cf.Risk.Thresholds
	}

	if cf.Report.OutputDir != "" {
		config.Report.OutputDir = cf.Report.OutputDir
	}

	a := cf.AutoFix
	if a.Enabled != nil {
		config.AutoFix.Enabled = *a.Enabled
	}
	if a.RequireConfirmation != nil {
		config.AutoFix.RequireConfirmation = *a.RequireConfirmation
	}
	if a.CreateBackup != nil {
		config.AutoFix.CreateBackup = *a.CreateBackup
	}
	if a.BackupDir != "" {
		config.AutoFix.BackupDir = a.BackupDir
	}
	if a.OnlySafe != nil {
		config.AutoFix.OnlySafe = *a.OnlySafe
	}

	if cf.History.Enabled != nil {
		config.History.Enabled = *cf.History.Enabled
	}
	if cf.History.Path != "" {
		config.History.Path = cf.History.Path
	}
	if cf.History.RetentionDays != nil {
		config.History.RetentionDays = *cf.History.RetentionDays
	}

	b := cf.Budget
	if b.MaxTokens != nil {
		config.Budget.MaxTokens = *b.MaxTokens
	}
	if b.MaxCostUSD != nil {
		config.Budget.MaxCostUSD = *b.MaxCostUSD
	}
	if b.AlertThreshold != nil {
		config.Budget.AlertThreshold = *b.AlertThreshold
	}
	if b.InputTokenCost != nil {
		config.Budget.InputTokenCost = *b.InputTokenCost
	}
	if b.OutputTokenCost != nil {
		config.Budget.OutputTokenCost = *b.OutputTokenCost
	}

	if cf.Log.Level != "" {
		config.Log.Level = cf.Log.Level
	}
	config.Log.JSON = cf.Log.JSON

	return config, nil
}

// WriteExampleConfigFile writes ExampleConfigFile() unless a config already exists.
func WriteExampleConfigFile(projectRoot string, force bool) (string, error) {
	configPath := FilePath(projectRoot)
	if _, err := os.Stat(configPath); err == nil && !force {
		return configPath, fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return "", fmt.Errorf("creating %s directory: %w", DirName, err)
	}
	if err := os.WriteFile(configPath, []byte(ExampleConfigFile()), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return configPath, nil
}

// ExampleConfigFile returns an example configuration file content.
func ExampleConfigFile() string {
	return `# bughunter configuration
# Credentials are read from the environment or .env, never from this file:
#   ANTHROPIC_API_KEY, or AZURE_OPENAI_API_KEY for provider azure-openai

oracle:
  provider: anthropic            # anthropic | azure-openai
  model: claude-sonnet-4-5-20250929
  # endpoint: https://my-resource.openai.azure.com/
  # deployment: gpt-4o
  max_tokens: 8192               # replies cut off at this limit are rejected
  timeout: 2m                    # per attempt
  temperature: 0.2
  environment: Production
  max_retries: 3
  max_concurrent_calls: 3
  requests_per_minute: 0         # 0 = unlimited

scan:
  max_file_size_kb: 500          # at most 500
  timeout: 30s                   # per file
  concurrency: 3
  respect_gitignore: true
  extra_exclude_patterns:
    - "**/testdata/**"
  # include_extensions: [".go", ".py"]

risk:
  weights:
    severity: 0.4
    confidence: 0.3
    exploitability: 0.2
    impact: 0.1
  thresholds:
    critical: 90
    high: 70
    medium: 40

report:
  output_dir: ./reports

autofix:
  enabled: true
  require_confirmation: true
  create_backup: true
  backup_dir: .bughunter/backups
  only_safe: false

history:
  enabled: true
  path: .bughunter/history.db
  retention_days: 90             # 0 keeps every run

budget:
  max_tokens: 0                  # per invocation, 0 = unlimited
  max_cost_usd: 0                # 0 = unlimited
  alert_threshold: 0.8
  input_token_cost: 3.00         # USD per 1M tokens
  output_token_cost: 15.00

log:
  level: warn
`
}

// parseDuration parses duration strings like "30s", "5m", "1d"
func parseDuration(s string) (time.Duration, error) {
	// Handle day suffix
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days := s[:len(s)-1]
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}
