package build

import (
	"fmt"
	"strings"
)

// State is a build pipeline state.
type State string

const (
	StateIdle               State = "idle"
	StateCleaning           State = "cleaning"
	StateResolvingToolchain State = "resolving-toolchain"
	StateConfiguring        State = "configuring"
	StateCompiling          State = "compiling"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
	StateCancelled          State = "cancelled"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateIdle:               {StateCleaning, StateResolvingToolchain},
	StateCleaning:           {StateResolvingToolchain},
	StateResolvingToolchain: {StateConfiguring},
	StateConfiguring:        {StateCompiling},
	StateCompiling:          {StateSucceeded},
}

// CanTransition reports whether the pipeline may move from one state to
// another. Failed and Cancelled are reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Mode is a CMake build type.
type Mode string

const (
	ModeDebug          Mode = "Debug"
	ModeRelease        Mode = "Release"
	ModeRelWithDebInfo Mode = "RelWithDebInfo"
)

// ParseMode accepts a build mode name case-insensitively.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "release":
		return ModeRelease, nil
	case "debug":
		return ModeDebug, nil
	case "relwithdebinfo", "releasewithdebuginfo", "release-with-debug-info":
		return ModeRelWithDebInfo, nil
	}
	return "", fmt.Errorf("unknown build mode %q (want Debug, Release or RelWithDebInfo)", value)
}
