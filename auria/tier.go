package auria

import (
	"fmt"
	"strings"
)

// Tier is an ordered hardware capability class. The zero value is Nano.
type Tier uint8

const (
	Nano Tier = iota
	Standard
	Pro
	Max
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{Nano, Standard, Pro, Max}

func (t Tier) String() string {
	switch t {
	case Nano:
		return "Nano"
	case Standard:
		return "Standard"
	case Pro:
		return "Pro"
	case Max:
		return "Max"
	default:
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the declared tiers.
func (t Tier) Valid() bool { return t <= Max }

// AtLeast reports whether t is the same as or above min.
func (t Tier) AtLeast(min Tier) bool { return t >= min }

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nano":
		return Nano, nil
	case "standard":
		return Standard, nil
	case "pro":
		return Pro, nil
	case "max":
		return Max, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
