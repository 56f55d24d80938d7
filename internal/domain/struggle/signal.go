package struggle

import "time"

type SignalType string

const (
	SignalHover          SignalType = "hover"
	SignalScroll         SignalType = "scroll"
	SignalIdle           SignalType = "idle"
	SignalRepeatedAccess SignalType = "repeated_access"
	SignalHelpRequest    SignalType = "help_request"
	SignalOther          SignalType = "other"
)

// ScoredSignalTypes lists the types that carry a scoring weight, in a stable order.
var ScoredSignalTypes = []SignalType{
	SignalIdle,
	SignalHover,
	SignalScroll,
	SignalRepeatedAccess,
	SignalHelpRequest,
}

func (t SignalType) Valid() bool {
	switch t {
	case SignalHover, SignalScroll, SignalIdle, SignalRepeatedAccess, SignalHelpRequest, SignalOther:
		return true
	default:
		return false
	}
}

// Signal is one validated behavioural event. Magnitude is seconds for hover
// and idle, direction reversals for scroll, and an access count for
// repeated access.
type Signal struct {
	Type       SignalType `json:"signal_type"`
	Timestamp  time.Time  `json:"timestamp"`
	Magnitude  float64    `json:"magnitude"`
	PageID     string     `json:"page_id,omitempty"`
	Difficulty *float64   `json:"difficulty,omitempty"`
}

// RawSignal is the unvalidated inbound payload.
type RawSignal struct {
	Type       string    `json:"signal_type"`
	Timestamp  time.Time `json:"timestamp"`
	Magnitude  float64   `json:"magnitude"`
	PageID     string    `json:"page_id,omitempty"`
	Difficulty *float64  `json:"difficulty,omitempty"`
}

// SignalEvent is the wire form shared by the HTTP and stream ingestion paths.
type SignalEvent struct {
	SessionKey SessionKey `json:"session_key"`
	RawSignal
}
