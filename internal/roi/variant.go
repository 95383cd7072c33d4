package roi

import (
	"fmt"
	"strings"
)

// Variant names one of the two calibrated track geometries.
type Variant int

const (
	Straight Variant = iota
	Curve

	VariantCount = 2
)

func (v Variant) String() string {
	switch v {
	case Straight:
		return "straight"
	case Curve:
		return "curve"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Other returns the competing variant.
func (v Variant) Other() Variant {
	if v == Straight {
		return Curve
	}
	return Straight
}

// ParseVariant accepts "straight" or "curve", case-insensitively.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "straight":
		return Straight, nil
	case "curve":
		return Curve, nil
	default:
		return Straight, fmt.Errorf("unknown roi variant %q", s)
	}
}

// Densities holds one value per variant, indexed by Variant.
type Densities [VariantCount]float64
