package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultAppLogPath  = "data/logs/solat.log"

	defaultStartingCash = 10000
	defaultCurrency     = "USD"

	defaultMaxOpenPositions   = 5
	defaultMaxOrderSize       = 10
	defaultMaxDailyLossPct    = 5.0
	defaultSymbolExposureCap  = 100000
	defaultTradeRateLimit     = 10
	defaultTradeRateWindowSec = 3600

	defaultLedgerPath              = "data/db/ledger.db"
	defaultSubmitTimeoutSec        = 10
	defaultBalanceTTLSec           = 30
	defaultBalanceRefreshFills     = 10
	defaultIdempotencyTTLSec       = 300
	defaultBreakerFailureThreshold = 5
	defaultBreakerCooldownSec      = 60

	defaultWarmupBars   = 50
	defaultArtefactsDir = "data/artefacts"
	defaultBarDataDir   = "data/bars"
	defaultRunDBPath    = "data/db/runs.db"
	defaultMaxParallel  = 2

	defaultBrokerMode      = "sim"
	defaultPollInterval    = 5
	defaultReconcileEvery  = 30
	defaultIngestTimeframe = "1h"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Account.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (a *AccountConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "account.starting_cash",
			need:  func() bool { return a.StartingCash <= 0 },
			apply: func() { a.StartingCash = defaultStartingCash },
		},
		stringFieldDefault("account.currency", &a.Currency, defaultCurrency),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			// stop-loss enforcement is on unless the config opts out
			key:   "risk.require_stop_loss",
			need:  func() bool { return !r.RequireStopLoss },
			apply: func() { r.RequireStopLoss = true },
		},
		fieldDefault{
			key:   "risk.max_open_positions",
			need:  func() bool { return r.MaxOpenPositions <= 0 },
			apply: func() { r.MaxOpenPositions = defaultMaxOpenPositions },
		},
		fieldDefault{
			key:   "risk.max_order_size",
			need:  func() bool { return r.MaxOrderSize <= 0 },
			apply: func() { r.MaxOrderSize = defaultMaxOrderSize },
		},
		fieldDefault{
			key:   "risk.max_daily_loss_pct",
			need:  func() bool { return r.MaxDailyLossPct <= 0 },
			apply: func() { r.MaxDailyLossPct = defaultMaxDailyLossPct },
		},
		fieldDefault{
			key:   "risk.symbol_exposure_cap",
			need:  func() bool { return r.SymbolExposureCap <= 0 },
			apply: func() { r.SymbolExposureCap = defaultSymbolExposureCap },
		},
		fieldDefault{
			key:   "risk.trade_rate_limit",
			need:  func() bool { return r.TradeRateLimit <= 0 },
			apply: func() { r.TradeRateLimit = defaultTradeRateLimit },
		},
		fieldDefault{
			key:   "risk.trade_rate_window_seconds",
			need:  func() bool { return r.TradeRateWindowSec <= 0 },
			apply: func() { r.TradeRateWindowSec = defaultTradeRateWindowSec },
		},
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("execution.ledger_path", &e.LedgerPath, defaultLedgerPath),
		fieldDefault{
			key:   "execution.submit_timeout_seconds",
			need:  func() bool { return e.SubmitTimeoutSec <= 0 },
			apply: func() { e.SubmitTimeoutSec = defaultSubmitTimeoutSec },
		},
		fieldDefault{
			key:   "execution.balance_ttl_seconds",
			need:  func() bool { return e.BalanceTTLSec <= 0 },
			apply: func() { e.BalanceTTLSec = defaultBalanceTTLSec },
		},
		fieldDefault{
			key:   "execution.balance_refresh_fills",
			need:  func() bool { return e.BalanceRefreshFills <= 0 },
			apply: func() { e.BalanceRefreshFills = defaultBalanceRefreshFills },
		},
		fieldDefault{
			key:   "execution.idempotency_ttl_seconds",
			need:  func() bool { return e.IdempotencyTTLSec <= 0 },
			apply: func() { e.IdempotencyTTLSec = defaultIdempotencyTTLSec },
		},
		fieldDefault{
			key:   "execution.breaker_failure_threshold",
			need:  func() bool { return e.BreakerFailureThreshold <= 0 },
			apply: func() { e.BreakerFailureThreshold = defaultBreakerFailureThreshold },
		},
		fieldDefault{
			key:   "execution.breaker_cooldown_seconds",
			need:  func() bool { return e.BreakerCooldownSec <= 0 },
			apply: func() { e.BreakerCooldownSec = defaultBreakerCooldownSec },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.warmup_bars",
			need:  func() bool { return b.WarmupBars <= 0 },
			apply: func() { b.WarmupBars = defaultWarmupBars },
		},
		stringFieldDefault("backtest.artefacts_dir", &b.ArtefactsDir, defaultArtefactsDir),
		stringFieldDefault("backtest.bar_data_dir", &b.BarDataDir, defaultBarDataDir),
		stringFieldDefault("backtest.run_db_path", &b.RunDBPath, defaultRunDBPath),
		fieldDefault{
			key:   "backtest.max_parallel",
			need:  func() bool { return b.MaxParallel <= 0 },
			apply: func() { b.MaxParallel = defaultMaxParallel },
		},
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.mode", &b.Mode, defaultBrokerMode),
		fieldDefault{
			key:   "broker.poll_interval_seconds",
			need:  func() bool { return b.PollIntervalSec <= 0 },
			apply: func() { b.PollIntervalSec = defaultPollInterval },
		},
		fieldDefault{
			key:   "broker.reconcile_interval_seconds",
			need:  func() bool { return b.ReconcileSec <= 0 },
			apply: func() { b.ReconcileSec = defaultReconcileEvery },
		},
		stringFieldDefault("broker.ingest_timeframe", &b.IngestTimeframe, defaultIngestTimeframe),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
