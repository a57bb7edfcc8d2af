// Package config loads the live trading core's configuration from the
// environment. Settings are read once at startup; there is no runtime
// settings database the way the upstream portfolio manager has one —
// broker credentials and risk thresholds are operational parameters an
// operator rotates by restarting the process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// TradingMode selects which broker endpoint set a driver connects to.
type TradingMode string

const (
	ModeTestnet TradingMode = "TESTNET"
	ModeMainnet TradingMode = "MAINNET"
	ModePaper   TradingMode = "PAPER"
)

// RiskConfig holds the pre-trade risk validator's configured thresholds.
type RiskConfig struct {
	MaxLeverage         int
	MaxPositionSizeUSDT decimal.Decimal
	MaxPositions        int
	DailyLossLimitUSDT  decimal.Decimal
	MaxDrawdownPercent  decimal.Decimal
	MaxConcentration    decimal.Decimal // fraction, default 0.30
	MaxPerGroup         int             // correlated-group position cap
	DailyResetCron      string          // UTC rollover schedule, e.g. "0 0 * * *"
}

// SizingConfig holds the signal adapter's position-sizing parameters.
type SizingConfig struct {
	DefaultPositionSizePercent decimal.Decimal
	UseKellyCriterion          bool
	KellyFraction              decimal.Decimal
}

// OrderConfig holds default order-shaping parameters.
type OrderConfig struct {
	DefaultOrderType      string
	LimitOrderOffsetPct   decimal.Decimal
	StopLossPercent       decimal.Decimal
	TakeProfitPercent     decimal.Decimal
}

// WebSocketConfig holds broker stream reconnect/heartbeat tuning.
type WebSocketConfig struct {
	ReconnectDelay    int // seconds
	MaxReconnectDelay int // seconds
	HeartbeatInterval int // seconds
}

// SignalConfig gates automatic execution of incoming strategy signals.
type SignalConfig struct {
	AutoExecute         bool
	ConfidenceThreshold decimal.Decimal
	StrengthThreshold   decimal.Decimal
}

// StateConfig controls crash-recovery snapshot persistence.
type StateConfig struct {
	Dir                  string
	SnapshotIntervalSecs int
	MaxSnapshots         int
	RetentionDays        int
}

// BackupConfig optionally mirrors pruned snapshots to S3-compatible storage.
type BackupConfig struct {
	Enabled  bool
	Bucket   string
	Region   string
	Endpoint string
}

// AuditConfig controls the local SQLite audit trail of domain events.
type AuditConfig struct {
	Enabled bool
	Path    string
}

// Config is the fully resolved trading core configuration.
type Config struct {
	TradingMode    TradingMode
	TradingEnabled bool

	BrokerAPIKey    string
	BrokerAPISecret string

	Risk     RiskConfig
	Sizing   SizingConfig
	Order    OrderConfig
	WS       WebSocketConfig
	Signal   SignalConfig
	State    StateConfig
	Backup   BackupConfig
	Audit    AuditConfig

	LogLevel    string
	ControlPort int
	DevMode     bool
}

// Load reads configuration from the environment, loading a .env file first
// if one exists in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	mode := TradingMode(strings.ToUpper(getEnv("TRADING_MODE", string(ModePaper))))
	switch mode {
	case ModeTestnet, ModeMainnet, ModePaper:
	default:
		return nil, fmt.Errorf("invalid TRADING_MODE %q", mode)
	}

	maxPositionSize, err := getEnvAsDecimal("MAX_POSITION_SIZE_USDT", "10000")
	if err != nil {
		return nil, err
	}
	dailyLossLimit, err := getEnvAsDecimal("DAILY_LOSS_LIMIT_USDT", "500")
	if err != nil {
		return nil, err
	}
	maxDrawdown, err := getEnvAsDecimal("MAX_DRAWDOWN_PERCENT", "20")
	if err != nil {
		return nil, err
	}
	defaultSizePct, err := getEnvAsDecimal("DEFAULT_POSITION_SIZE_PERCENT", "2")
	if err != nil {
		return nil, err
	}
	kellyFraction, err := getEnvAsDecimal("KELLY_FRACTION", "0.25")
	if err != nil {
		return nil, err
	}
	limitOffset, err := getEnvAsDecimal("LIMIT_ORDER_OFFSET_PERCENT", "0.1")
	if err != nil {
		return nil, err
	}
	stopLoss, err := getEnvAsDecimal("STOP_LOSS_PERCENT", "2")
	if err != nil {
		return nil, err
	}
	takeProfit, err := getEnvAsDecimal("TAKE_PROFIT_PERCENT", "4")
	if err != nil {
		return nil, err
	}
	confidenceThreshold, err := getEnvAsDecimal("SIGNAL_CONFIDENCE_THRESHOLD", "0.6")
	if err != nil {
		return nil, err
	}
	strengthThreshold, err := getEnvAsDecimal("SIGNAL_STRENGTH_THRESHOLD", "0.5")
	if err != nil {
		return nil, err
	}

	stateDir := getEnv("STATE_DIR", "./trading_state")
	absStateDir, err := filepath.Abs(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state directory: %w", err)
	}
	if err := os.MkdirAll(absStateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	cfg := &Config{
		TradingMode:     mode,
		TradingEnabled:  getEnvAsBool("TRADING_ENABLED", false),
		BrokerAPIKey:    getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret: getEnv("BROKER_API_SECRET", ""),
		Risk: RiskConfig{
			MaxLeverage:         getEnvAsInt("MAX_LEVERAGE", 10),
			MaxPositionSizeUSDT: maxPositionSize,
			MaxPositions:        getEnvAsInt("MAX_POSITIONS", 5),
			DailyLossLimitUSDT:  dailyLossLimit,
			MaxDrawdownPercent:  maxDrawdown,
			MaxConcentration:    decimal.NewFromFloat(0.30),
			MaxPerGroup:         getEnvAsInt("MAX_PER_CORRELATION_GROUP", 2),
			DailyResetCron:      getEnv("DAILY_RESET_CRON", "0 0 * * *"),
		},
		Sizing: SizingConfig{
			DefaultPositionSizePercent: defaultSizePct,
			UseKellyCriterion:          getEnvAsBool("USE_KELLY_CRITERION", false),
			KellyFraction:              kellyFraction,
		},
		Order: OrderConfig{
			DefaultOrderType:    getEnv("DEFAULT_ORDER_TYPE", "LIMIT"),
			LimitOrderOffsetPct: limitOffset,
			StopLossPercent:     stopLoss,
			TakeProfitPercent:   takeProfit,
		},
		WS: WebSocketConfig{
			ReconnectDelay:    getEnvAsInt("WS_RECONNECT_DELAY", 1),
			MaxReconnectDelay: getEnvAsInt("WS_MAX_RECONNECT_DELAY", 300),
			HeartbeatInterval: getEnvAsInt("WS_HEARTBEAT_INTERVAL", 30),
		},
		Signal: SignalConfig{
			AutoExecute:         getEnvAsBool("AUTO_EXECUTE_SIGNALS", false),
			ConfidenceThreshold: confidenceThreshold,
			StrengthThreshold:   strengthThreshold,
		},
		State: StateConfig{
			Dir:                  absStateDir,
			SnapshotIntervalSecs: getEnvAsInt("SNAPSHOT_INTERVAL_SECONDS", 60),
			MaxSnapshots:         getEnvAsInt("MAX_SNAPSHOTS", 100),
			RetentionDays:        getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 7),
		},
		Backup: BackupConfig{
			Enabled:  getEnv("BACKUP_S3_BUCKET", "") != "",
			Bucket:   getEnv("BACKUP_S3_BUCKET", ""),
			Region:   getEnv("BACKUP_S3_REGION", "us-east-1"),
			Endpoint: getEnv("BACKUP_S3_ENDPOINT", ""),
		},
		Audit: AuditConfig{
			Enabled: getEnvAsBool("AUDIT_ENABLED", true),
			Path:    getEnv("AUDIT_DB_PATH", filepath.Join(absStateDir, "audit.db")),
		},
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ControlPort: getEnvAsInt("CONTROL_PORT", 8090),
		DevMode:     getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("MAX_LEVERAGE must be >= 1, got %d", c.Risk.MaxLeverage)
	}
	if c.Risk.MaxPositions < 1 {
		return fmt.Errorf("MAX_POSITIONS must be >= 1, got %d", c.Risk.MaxPositions)
	}
	if c.TradingMode != ModePaper && c.TradingEnabled && (c.BrokerAPIKey == "" || c.BrokerAPISecret == "") {
		return fmt.Errorf("BROKER_API_KEY and BROKER_API_SECRET are required when TRADING_ENABLED=true and TRADING_MODE=%s", c.TradingMode)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDecimal(key, fallback string) (decimal.Decimal, error) {
	value := getEnv(key, fallback)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s=%q: %w", key, value, err)
	}
	return d, nil
}
