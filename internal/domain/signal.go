package domain

// SignalAction is what a strategy asks the engine to do on a bar.
type SignalAction string

const (
	SignalEnter SignalAction = "ENTER"
	SignalExit  SignalAction = "EXIT"
	SignalNone  SignalAction = "NONE"
)

// Signal is a strategy decision. StopLoss is only meaningful on ENTER.
type Signal struct {
	Action   SignalAction `json:"action"`
	Price    float64      `json:"price,omitempty"`
	StopLoss float64      `json:"stop_loss,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// NoSignal is the zero decision.
var NoSignal = Signal{Action: SignalNone}
