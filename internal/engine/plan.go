package engine

import (
	"fmt"

	"memdiag/internal/config"
	"memdiag/internal/diag"
	"memdiag/internal/pattern"
)

// Step is one entry of a test plan: run Algorithm over Region on every
// cycle divisible by Every.
type Step struct {
	Region    diag.RegionID
	Algorithm diag.Algorithm
	Every     uint32 // 0 and 1 mean every cycle
	Fraction  uint32 // test the leading 1/Fraction of the window; 0 or 1 is all of it
	Pattern   uint32 // checkerboard pattern
	Repeat    int    // runs per due cycle, at least 1
}

// Due reports whether the step runs during cycle.
func (s Step) Due(cycle uint32) bool {
	return s.Every <= 1 || cycle%s.Every == 0
}

// Tag returns the operation tag recorded while the step runs.
func (s Step) Tag() diag.OpTag { return diag.Tag(s.Region, s.Algorithm) }

// Name returns the human readable operation name.
func (s Step) Name() string {
	name := s.Region.String() + " " + s.Algorithm.String()
	if s.Algorithm == diag.AlgCheckerboard {
		name += fmt.Sprintf(" 0x%08X", s.Pattern)
	}
	if s.Fraction > 1 {
		name += fmt.Sprintf(" 1/%d", s.Fraction)
	}
	return name
}

// Plan is the ordered list of steps interpreted each cycle.
type Plan []Step

// basic is the per-region address, butterfly and two checkerboard passes.
func basic(regions ...diag.RegionID) Plan {
	var p Plan
	for _, r := range regions {
		p = append(p,
			Step{Region: r, Algorithm: diag.AlgAddress},
			Step{Region: r, Algorithm: diag.AlgButterfly},
			Step{Region: r, Algorithm: diag.AlgCheckerboard, Pattern: pattern.Checkerboard1},
			Step{Region: r, Algorithm: diag.AlgCheckerboard, Pattern: pattern.Checkerboard2},
		)
	}
	return p
}

// PlanFor returns the plan of mode.
func PlanFor(mode diag.Mode, cfg *config.Config) Plan {
	adv := cfg.AdvancedInterval
	all := []diag.RegionID{diag.RegionFlash, diag.RegionSRAM1, diag.RegionSRAM2, diag.RegionCCM}
	srams := []diag.RegionID{diag.RegionSRAM1, diag.RegionSRAM2, diag.RegionCCM}

	switch mode {
	case diag.ModeStress:
		p := basic(all...)
		p = append(p, Step{Region: diag.RegionCache, Algorithm: diag.AlgCache})
		p = append(p,
			Step{Region: diag.RegionSRAM1, Algorithm: diag.AlgMarchC, Fraction: 8},
			Step{Region: diag.RegionSRAM2, Algorithm: diag.AlgWalking, Fraction: 8},
		)
		for _, r := range srams {
			p = append(p,
				Step{Region: r, Algorithm: diag.AlgGalpat, Fraction: 8},
				Step{Region: r, Algorithm: diag.AlgModifiedCheckerboard},
			)
		}
		return p

	case diag.ModeSRAMOnly:
		every := adv / 2
		if every == 0 {
			every = 1
		}
		return append(basic(srams...),
			Step{Region: diag.RegionSRAM1, Algorithm: diag.AlgMarchC, Every: every, Fraction: 4},
			Step{Region: diag.RegionSRAM2, Algorithm: diag.AlgWalking, Every: every, Fraction: 4},
			Step{Region: diag.RegionCCM, Algorithm: diag.AlgModifiedCheckerboard, Every: every, Fraction: 4},
		)

	case diag.ModeFlashOnly:
		return basic(diag.RegionFlash)

	case diag.ModeCacheOnly:
		return Plan{{Region: diag.RegionCache, Algorithm: diag.AlgCache, Repeat: 5}}

	default:
		return append(basic(all...),
			Step{Region: diag.RegionCache, Algorithm: diag.AlgCache},
			Step{Region: diag.RegionSRAM1, Algorithm: diag.AlgMarchC, Every: adv, Fraction: 8},
			Step{Region: diag.RegionSRAM2, Algorithm: diag.AlgWalking, Every: adv, Fraction: 8},
		)
	}
}
