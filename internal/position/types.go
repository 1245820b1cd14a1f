package position

import (
	"fmt"
	"strings"

	"frizo/position_engine/internal/common"
)

// Side LONG or SHORT
type Side int

const (
	Long  Side = 1
	Short Side = -1
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Valid reports whether s is Long or Short.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// ParseSide accepts "long"/"short" in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return 0, fmt.Errorf("%w: %q", common.ErrInvalidSide, v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", common.ErrInvalidSide, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ========================================================

// Status Open Closed Liquidated
type Status int

const (
	StatusOpen       Status = iota // 持倉中
	StatusClosed                   // 已平倉
	StatusLiquidated               // 已強平
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusLiquidated
}

func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(v) {
	case "open":
		return StatusOpen, nil
	case "closed":
		return StatusClosed, nil
	case "liquidated":
		return StatusLiquidated, nil
	}
	return 0, fmt.Errorf("unknown position status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
