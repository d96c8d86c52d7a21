package domain

// TradingState is the lifecycle stage of an engine.
type TradingState string

const (
	StateIdle         TradingState = "IDLE"
	StateEntryPending TradingState = "ENTRY_PENDING"
	StateInPosition   TradingState = "IN_POSITION"
	StateExitPending  TradingState = "EXIT_PENDING"
	StateCooldown     TradingState = "COOLDOWN"
	StateHalted       TradingState = "HALTED"
)

// TradingMode selects the execution engine.
type TradingMode string

const (
	ModeBacktest TradingMode = "BACKTEST"
	ModePaper    TradingMode = "PAPER"
	ModeLive     TradingMode = "LIVE"
)
