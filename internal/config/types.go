package config

import "strings"

// Config is the top-level configuration for the engine.
type Config struct {
	App         AppConfig          `toml:"app"`
	Account     AccountConfig      `toml:"account"`
	Risk        RiskConfig         `toml:"risk"`
	Execution   ExecutionConfig    `toml:"execution"`
	Backtest    BacktestConfig     `toml:"backtest"`
	Broker      BrokerConfig       `toml:"broker"`
	Fees        FeeConfig          `toml:"fees"`
	Instruments []InstrumentConfig `toml:"instruments"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type AccountConfig struct {
	StartingCash float64 `toml:"starting_cash"`
	Currency     string  `toml:"currency"`
}

// RiskConfig holds the pre-trade limit set. Zero values fall back to
// defaults during Load; explicit zero in the file disables nothing,
// limits are always enforced.
type RiskConfig struct {
	RequireStopLoss    bool    `toml:"require_stop_loss"`
	MaxOpenPositions   int     `toml:"max_open_positions"`
	MaxOrderSize       float64 `toml:"max_order_size"`
	MaxDailyLossPct    float64 `toml:"max_daily_loss_pct"`
	SymbolExposureCap  float64 `toml:"symbol_exposure_cap"`
	TradeRateLimit     int     `toml:"trade_rate_limit"`
	TradeRateWindowSec int     `toml:"trade_rate_window_seconds"`
}

type ExecutionConfig struct {
	LedgerPath              string `toml:"ledger_path"`
	SubmitTimeoutSec        int    `toml:"submit_timeout_seconds"`
	BalanceTTLSec           int    `toml:"balance_ttl_seconds"`
	BalanceRefreshFills     int    `toml:"balance_refresh_fills"`
	IdempotencyTTLSec       int    `toml:"idempotency_ttl_seconds"`
	BreakerFailureThreshold int    `toml:"breaker_failure_threshold"`
	BreakerCooldownSec      int    `toml:"breaker_cooldown_seconds"`
	CloseOnKillSwitch       bool   `toml:"close_on_kill_switch"`
	DisableDriftKill        bool   `toml:"disable_drift_kill"`
}

type BacktestConfig struct {
	Seed         int64  `toml:"seed"`
	WarmupBars   int    `toml:"warmup_bars"`
	ArtefactsDir string `toml:"artefacts_dir"`
	BarDataDir   string `toml:"bar_data_dir"`
	RunDBPath    string `toml:"run_db_path"`
	MaxParallel  int    `toml:"max_parallel"`
}

// BrokerConfig selects the live adapter. Mode "sim" routes orders to
// the internal fill simulator even outside a backtest.
type BrokerConfig struct {
	Mode            string `toml:"mode"` // "sim" | "binance"
	APIKey          string `toml:"api_key"`
	APISecret       string `toml:"api_secret"`
	Testnet         bool   `toml:"testnet"`
	PollIntervalSec int    `toml:"poll_interval_seconds"`
	ReconcileSec    int    `toml:"reconcile_interval_seconds"`
	IngestTimeframe string `toml:"ingest_timeframe"`
}

type FeeConfig struct {
	Flat   float64 `toml:"flat"`
	PerLot float64 `toml:"per_lot"`
	Pct    float64 `toml:"pct"`
}

// InstrumentConfig mirrors domain.Instrument with file-friendly types.
// HalfSpread and Slippage are in price units.
type InstrumentConfig struct {
	Symbol     string  `toml:"symbol"`
	PipSize    float64 `toml:"pip_size"`
	HalfSpread float64 `toml:"half_spread"`
	Slippage   float64 `toml:"slippage"`
	MinSize    float64 `toml:"min_size"`
	MaxSize    float64 `toml:"max_size"`
	SizeStep   float64 `toml:"size_step"`
	LotValue   float64 `toml:"lot_value"`
}

// keySet tracks which field paths were explicitly set in the file.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
