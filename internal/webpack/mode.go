package webpack

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects which optional plugins and transpiler settings a build gets.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeTest        Mode = "test"
	ModeProduction  Mode = "production"
)

var ErrUnknownMode = errors.New("unknown mode")

// ParseMode converts a mode name such as the value of NODE_ENV into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDevelopment, ModeTest, ModeProduction:
		return m, nil
	default:
		return ModeDevelopment, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

func (m Mode) IsProduction() bool {
	return m == ModeProduction
}

func (m Mode) String() string {
	return string(m)
}

// ModeFromEnv reads BABEL_ENV, then NODE_ENV, through getenv. Missing or
// unknown names give ModeDevelopment.
func ModeFromEnv(getenv func(string) string) Mode {
	name := getenv("BABEL_ENV")
	if name == "" {
		name = getenv("NODE_ENV")
	}
	mode, _ := ParseMode(name)
	return mode
}
