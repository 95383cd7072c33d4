package roi

import (
	"image"
	"math"
)

// TextureMeter measures edge density inside each variant's analysis mask for one frame.
type TextureMeter interface {
	EdgeDensities(gray *image.Gray) (Densities, error)
}

// SelectorConfig tunes geometry selection.
type SelectorConfig struct {
	// Alpha is the EMA smoothing factor applied to each new density sample.
	Alpha float64
	// Hysteresis is the lead the challenger's EMA must exceed before the active variant switches.
	Hysteresis float64
	// Initial is the variant active before any frame is seen.
	Initial Variant
}

// Selection is the outcome of one Update.
type Selection struct {
	Active   Variant
	EMA      Densities
	Switched bool
	// Ready is false until the active variant has received a valid sample.
	Ready bool
}

// ActiveEMA returns the smoothed density of the active variant.
func (s Selection) ActiveEMA() float64 {
	return s.EMA[s.Active]
}

// Selector picks the authoritative track geometry frame by frame. It is owned
// by the perception loop and is not safe for concurrent use.
type Selector struct {
	cfg    SelectorConfig
	active Variant
	ema    Densities
	seeded [2]bool
}

// NewSelector creates a selector with cfg.Initial active.
func NewSelector(cfg SelectorConfig) *Selector {
	return &Selector{cfg: cfg, active: cfg.Initial}
}

// Active returns the current variant.
func (s *Selector) Active() Variant {
	return s.active
}

// Update folds one frame of raw densities into the EMAs and applies hysteresis switching.
// A variant's first valid sample seeds its EMA directly. Non-finite or negative
// samples are ignored, and an unseeded variant never wins a switch.
func (s *Selector) Update(raw Densities) Selection {
	for v := range raw {
		sample := raw[v]
		if math.IsNaN(sample) || math.IsInf(sample, 0) || sample < 0 {
			continue
		}
		if !s.seeded[v] {
			s.ema[v] = sample
			s.seeded[v] = true
			continue
		}
		s.ema[v] = (1-s.cfg.Alpha)*s.ema[v] + s.cfg.Alpha*sample
	}

	prev := s.active
	challenger := s.active.Other()
	if s.seeded[challenger] && (!s.seeded[s.active] || s.ema[challenger] > s.ema[s.active]+s.cfg.Hysteresis) {
		s.active = challenger
	}

	return Selection{
		Active:   s.active,
		EMA:      s.ema,
		Switched: s.active != prev,
		Ready:    s.seeded[s.active],
	}
}
