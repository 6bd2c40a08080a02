package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ggonzalez94/defi-intent/internal/amount"
	"github.com/ggonzalez94/defi-intent/internal/asset"
	"github.com/ggonzalez94/defi-intent/internal/command"
	"github.com/ggonzalez94/defi-intent/internal/disambig"
	"github.com/ggonzalez94/defi-intent/internal/logging"
	"github.com/ggonzalez94/defi-intent/internal/policy"
	"github.com/ggonzalez94/defi-intent/internal/risk"
	"github.com/ggonzalez94/defi-intent/internal/strategy"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DEFI_INTENT_"

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	LogLevel       string
	Protocols      string
	NoStore        bool
}

type Settings struct {
	OutputMode       string
	SelectFields     []string
	ResultsOnly      bool
	EnableCommands   []string
	LogLevel         string
	StoreEnabled     bool
	StorePath        string
	StoreLockPath    string
	PendingPath      string
	PendingLockPath  string
	BatchConcurrency int

	Amount         amount.Config
	Assets         asset.Config
	Risk           risk.Config
	Strategies     strategy.Config
	Disambiguation disambig.Config
	Policy         policy.Rules
	Protocols      []string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	LogLevel string `yaml:"log_level"`
	Store    struct {
		Enabled         *bool  `yaml:"enabled"`
		Path            string `yaml:"path"`
		LockPath        string `yaml:"lock_path"`
		PendingPath     string `yaml:"pending_path"`
		PendingLockPath string `yaml:"pending_lock_path"`
	} `yaml:"store"`
	BatchConcurrency *int            `yaml:"batch_concurrency"`
	Amount           amount.Config   `yaml:"amount"`
	Assets           asset.Config    `yaml:"assets"`
	Risk             risk.Config     `yaml:"risk"`
	Strategies       strategy.Config `yaml:"strategies"`
	Disambiguation   disambig.Config `yaml:"disambiguation"`
	Policy           struct {
		MaxLTV               *float64 `yaml:"max_ltv"`
		BorrowUtilizationPct *float64 `yaml:"borrow_utilization_pct"`
		LendBalancePct       *float64 `yaml:"lend_balance_pct"`
		MaxPriceImpactPct    *float64 `yaml:"max_price_impact_pct"`
		HighLeverage         *float64 `yaml:"high_leverage"`
		LiquidTokens         []string `yaml:"liquid_tokens"`
		Protocols            []string `yaml:"protocols"`
	} `yaml:"policy"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	lookup, err := envLookup(flags.EnvFile)
	if err != nil {
		return Settings{}, err
	}
	if err := applyEnv(lookup, &settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.BatchConcurrency <= 0 {
		settings.BatchConcurrency = 4
	}
	if !settings.Policy.MaxLTV.IsPositive() || settings.Policy.MaxLTV.GreaterThan(decimal.NewFromInt(1)) {
		return Settings{}, fmt.Errorf("policy max_ltv must be in (0, 1]")
	}

	return settings, nil
}

// PipelineConfig is the command pipeline configuration these settings describe.
func (s Settings) PipelineConfig() command.Config {
	return command.Config{
		Amount:           s.Amount,
		Assets:           s.Assets,
		Risk:             s.Risk,
		Disambiguation:   s.Disambiguation,
		Policy:           s.Policy,
		Protocols:        s.Protocols,
		BatchConcurrency: s.BatchConcurrency,
	}
}

func defaultSettings() (Settings, error) {
	dir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:       "json",
		LogLevel:         logging.DefaultLevel,
		StoreEnabled:     true,
		StorePath:        filepath.Join(dir, "commands.db"),
		StoreLockPath:    filepath.Join(dir, "commands.lock"),
		PendingPath:      filepath.Join(dir, "pending.db"),
		PendingLockPath:  filepath.Join(dir, "pending.lock"),
		BatchConcurrency: 4,
		Amount:           amount.DefaultConfig(),
		Assets:           asset.DefaultConfig(),
		Risk:             risk.DefaultConfig(),
		Strategies:       strategy.DefaultConfig(),
		Disambiguation:   disambig.DefaultConfig(),
		Policy:           policy.DefaultRules(),
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "defi-intent", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "defi-intent"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	// Component sections decode over the defaults so a file only names what it changes.
	cfg := fileConfig{
		Amount:         settings.Amount,
		Assets:         settings.Assets,
		Risk:           settings.Risk,
		Strategies:     settings.Strategies,
		Disambiguation: settings.Disambiguation,
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if cfg.Store.Enabled != nil {
		settings.StoreEnabled = *cfg.Store.Enabled
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	if cfg.Store.PendingPath != "" {
		settings.PendingPath = cfg.Store.PendingPath
	}
	if cfg.Store.PendingLockPath != "" {
		settings.PendingLockPath = cfg.Store.PendingLockPath
	}
	if cfg.BatchConcurrency != nil {
		settings.BatchConcurrency = *cfg.BatchConcurrency
	}
	settings.Amount = cfg.Amount
	settings.Assets = cfg.Assets
	settings.Risk = cfg.Risk
	settings.Strategies = cfg.Strategies
	settings.Disambiguation = cfg.Disambiguation

	if cfg.Policy.MaxLTV != nil {
		settings.Policy.MaxLTV = decimal.NewFromFloat(*cfg.Policy.MaxLTV)
	}
	if cfg.Policy.BorrowUtilizationPct != nil {
		settings.Policy.BorrowUtilizationPct = decimal.NewFromFloat(*cfg.Policy.BorrowUtilizationPct)
	}
	if cfg.Policy.LendBalancePct != nil {
		settings.Policy.LendBalancePct = decimal.NewFromFloat(*cfg.Policy.LendBalancePct)
	}
	if cfg.Policy.MaxPriceImpactPct != nil {
		settings.Policy.MaxPriceImpactPct = *cfg.Policy.MaxPriceImpactPct
	}
	if cfg.Policy.HighLeverage != nil {
		settings.Policy.HighLeverage = *cfg.Policy.HighLeverage
	}
	if len(cfg.Policy.LiquidTokens) > 0 {
		settings.Policy.LiquidTokens = upperAll(cfg.Policy.LiquidTokens)
	}
	if len(cfg.Policy.Protocols) > 0 {
		settings.Protocols = lowerAll(cfg.Policy.Protocols)
	}

	return nil
}

// envLookup reads the process environment, falling back to the optional
// env file. The env file never modifies the process environment.
func envLookup(envFile string) (func(string) string, error) {
	fileValues := map[string]string{}
	if strings.TrimSpace(envFile) != "" {
		values, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		fileValues = values
	}
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileValues[key]
	}, nil
}

func applyEnv(getenv func(string) string, settings *Settings) error {
	get := func(name string) string { return strings.TrimSpace(getenv(envPrefix + name)) }

	if v := get("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := get("LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := get("NO_STORE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.StoreEnabled = !b
		}
	}
	if v := get("STORE_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := get("STORE_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
	if v := get("PENDING_PATH"); v != "" {
		settings.PendingPath = v
	}
	if v := get("PENDING_LOCK_PATH"); v != "" {
		settings.PendingLockPath = v
	}
	if v := get("BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.BatchConcurrency = n
		}
	}
	if v := get("MAX_LTV"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("parse %sMAX_LTV: %w", envPrefix, err)
		}
		settings.Policy.MaxLTV = d
	}
	if v := get("MAX_PRICE_IMPACT_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.Policy.MaxPriceImpactPct = f
		}
	}
	if v := get("LIQUID_TOKENS"); v != "" {
		settings.Policy.LiquidTokens = upperAll(splitCSV(v))
	}
	if v := get("PROTOCOLS"); v != "" {
		settings.Protocols = lowerAll(splitCSV(v))
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if fields := splitCSV(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if allowed := splitCSV(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.TrimSpace(flags.LogLevel)
	}
	if protocols := splitCSV(flags.Protocols); len(protocols) > 0 {
		settings.Protocols = lowerAll(protocols)
	}
	if flags.NoStore {
		settings.StoreEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func upperAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, strings.ToUpper(strings.TrimSpace(item)))
	}
	return out
}

func lowerAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, strings.ToLower(strings.TrimSpace(item)))
	}
	return out
}
