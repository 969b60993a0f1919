package core

import (
	"errors"
	"math"
)

// MaxLevel is reported for curves that never grow past a score: a zero base
// or a zero modifier makes every score beyond Base satisfy every level.
const MaxLevel int64 = 1_000_000

// approxThreshold is the score above which LevelApprox estimates a starting
// iteration instead of walking up from zero.
const approxThreshold = 1000

// LevelMode selects how LevelFromScore finds the crossing point.
type LevelMode int

const (
	// LevelApprox starts iterating at floor(sqrt((score-base)*100/(base*modifier)))
	// for scores above 1000. When the estimate overshoots the true crossing
	// point the reported level is slightly higher than LevelExact's.
	LevelApprox LevelMode = iota
	// LevelExact always iterates from zero.
	LevelExact
)

func (m LevelMode) String() string {
	if m == LevelExact {
		return "exact"
	}
	return "approx"
}

// LevelCurve parameterizes the level formula for one community.
type LevelCurve struct {
	Base     int64 `json:"base" db:"base"`
	Modifier int64 `json:"modifier" db:"modifier"`
	Amount   int64 `json:"amount" db:"amount"`
}

// DefaultCurve is used for communities without stored settings.
func DefaultCurve() LevelCurve {
	return LevelCurve{Base: 100, Modifier: 50, Amount: 15}
}

// Validate rejects negative parameters.
func (c LevelCurve) Validate() error {
	if c.Base < 0 {
		return InvalidArgumentf("curve base must be >= 0, got %d", c.Base)
	}
	if c.Modifier < 0 {
		return InvalidArgumentf("curve modifier must be >= 0, got %d", c.Modifier)
	}
	if c.Amount < 0 {
		return InvalidArgumentf("curve amount must be >= 0, got %d", c.Amount)
	}
	return nil
}

func (c LevelCurve) degenerate() bool { return c.Base <= 0 || c.Modifier <= 0 }

// XPNeeded returns base + round(base * modifier/100 * i) * i, saturating at
// math.MaxInt64.
func (c LevelCurve) XPNeeded(i int64) int64 {
	if i <= 0 {
		return c.Base
	}
	step := math.Round(float64(c.Base) * float64(c.Modifier) / 100 * float64(i))
	v := float64(c.Base) + step*float64(i)
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// LevelFromScore returns the smallest level L >= 1 with score < XPNeeded(L-1).
func (c LevelCurve) LevelFromScore(score int64, mode LevelMode) int64 {
	if score < c.Base {
		return 1
	}
	if c.degenerate() {
		return MaxLevel
	}
	var i int64
	if mode == LevelApprox && score > approxThreshold {
		i = c.approxStart(score)
	}
	for ; ; i++ {
		needed := c.XPNeeded(i)
		if score < needed || needed == math.MaxInt64 {
			return i + 1
		}
	}
}

func (c LevelCurve) approxStart(score int64) int64 {
	diff := float64(score - c.Base)
	if diff <= 0 {
		return 0
	}
	return int64(math.Floor(math.Sqrt(diff * 100 / (float64(c.Base) * float64(c.Modifier)))))
}

// XPNeededForLevel returns the cumulative score at which level+offset is
// reached. offset 0 gives the threshold of the current level, offset 1 the
// threshold of the next one.
func (c LevelCurve) XPNeededForLevel(level, offset int64) int64 {
	i := level - 2 + offset
	switch {
	case i < 0:
		return 0
	case i == 0:
		return c.Base
	default:
		return c.XPNeeded(i)
	}
}

// Progress returns how far score is into level and the width of that level.
// progress is clamped to [0, span]: an approximated level can sit above the
// score's true level, in which case the member has made no progress into it.
func (c LevelCurve) Progress(score, level int64) (progress, span int64) {
	floor := c.XPNeededForLevel(level, 0)
	span = max(c.XPNeededForLevel(level, 1)-floor, 0)
	return min(max(score-floor, 0), span), span
}

// ErrDegenerateCurve is returned by CheckCurve for curves whose levels cannot
// be derived from a score.
var ErrDegenerateCurve = errors.New("level curve never grows")

// CheckCurve validates c and reports degenerate growth.
func CheckCurve(c LevelCurve) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.degenerate() {
		return ErrDegenerateCurve
	}
	return nil
}
