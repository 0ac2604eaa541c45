package feed

// Message types.
const (
	TypePosition = "position" // client → server
	TypeLeave    = "leave"    // client → server
	TypeWelcome  = "welcome"  // server → client
	TypeEvent    = "event"    // server → client
	TypeTick     = "tick"     // server → client
	TypeError    = "error"    // server → client
)

// Base carries the type discriminator of every message.
type Base struct {
	Type string `json:"type"`
}

// PositionMsg reports where an agent is. The first report starts tracking it.
type PositionMsg struct {
	Type  string     `json:"type"`
	Agent uint64     `json:"agent"`
	Pos   [3]float64 `json:"pos"`
}

// LeaveMsg stops tracking an agent immediately.
type LeaveMsg struct {
	Type  string `json:"type"`
	Agent uint64 `json:"agent"`
}

// WelcomeMsg is sent once after the upgrade.
type WelcomeMsg struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	Tick       uint64 `json:"tick"`
	Regions    int    `json:"regions"`
}

// EventMsg is an enter or exit transition.
type EventMsg struct {
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	Region    uint64 `json:"region"`
	Agent     uint64 `json:"agent"`
	Tick      uint64 `json:"tick"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// TickMsg summarizes one completed tick.
type TickMsg struct {
	Type       string `json:"type"`
	Tick       uint64 `json:"tick"`
	Generation uint64 `json:"generation"`
	Agents     int    `json:"agents"`
	Enters     int    `json:"enters"`
	Exits      int    `json:"exits"`
}

// ErrorMsg reports a rejected client message.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
