package puzzle

// Command is an instruction a propagation rule can deliver to a piece.
type Command string

const (
	// CmdClear removes or resets state.
	CmdClear Command = "clear"
	// CmdDisable locks the piece against player input.
	CmdDisable Command = "disable"
	// CmdDown decrements the state.
	CmdDown Command = "down"
	// CmdEnable unlocks the piece for player input.
	CmdEnable Command = "enable"
	// CmdFrequency changes the period of a timed piece.
	CmdFrequency Command = "frequency"
	// CmdInsert adds additional state.
	CmdInsert Command = "insert"
	// CmdSend transports players.
	CmdSend Command = "send"
	// CmdSet replaces the state with the provided value.
	CmdSet Command = "set"
	// CmdSetLeft changes the left operand of a two-input piece.
	CmdSetLeft Command = "set_left"
	// CmdSetRight changes the right operand of a two-input piece.
	CmdSetRight Command = "set_right"
	// CmdToggle inverts the current state.
	CmdToggle Command = "toggle"
	// CmdUp increments the state.
	CmdUp Command = "up"
)

// Event is a state-change notification emitted by a piece.
type Event string

const (
	// EventAtMax fires when the state reaches its maximum.
	EventAtMax Event = "at_max"
	// EventAtMin fires when the state reaches its minimum.
	EventAtMin Event = "at_min"
	// EventChanged fires when the state changes.
	EventChanged Event = "changed"
	// EventCleared fires when the state resets or rolls over.
	EventCleared Event = "cleared"
	// EventSelected fires when the selection in a multi-valued piece changes.
	EventSelected Event = "selected"
	// EventSensitive fires when the piece starts or stops accepting input.
	EventSensitive Event = "sensitive"
)
