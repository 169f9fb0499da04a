// Package crimestats flags police areas whose recent incident counts are
// unusually high or low relative to the rest of the city, using the
// hypergeometric test PPD's crime-spike mapping was built on.
//
// Two date ranges drive the test: an overall range, and a shorter spike range
// at its end. For each range the incidents are counted city-wide and inside
// the test area.
package crimestats

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

// ErrInvalidCounts is returned when counts cannot come from nested ranges and areas.
var ErrInvalidCounts = errors.New("invalid incident counts")

const (
	// SpikeCutoff is the p-value below which an area is spiking.
	SpikeCutoff = 0.005
	// AntiSpikeCutoff is the p-value above which an area is unusually quiet.
	AntiSpikeCutoff = 0.995
)

// Combination returns n choose k, or 0 when k is outside [0, n].
func Combination(n, k int64) *big.Int {
	if n < 0 || k < 0 || k > n {
		return new(big.Int)
	}
	return new(big.Int).Binomial(n, k)
}

// Counts are the four inputs of the test.
type Counts struct {
	CityOverall int64 // N: city-wide incidents in the overall range
	AreaOverall int64 // G: area incidents in the overall range
	CitySpike   int64 // n: city-wide incidents in the spike range
	AreaSpike   int64 // x: area incidents in the spike range
}

func (c Counts) validate() error {
	switch {
	case c.CityOverall < 0 || c.AreaOverall < 0 || c.CitySpike < 0 || c.AreaSpike < 0:
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidCounts)
	case c.AreaOverall > c.CityOverall:
		return fmt.Errorf("%w: area total %d exceeds city total %d", ErrInvalidCounts, c.AreaOverall, c.CityOverall)
	case c.CitySpike > c.CityOverall:
		return fmt.Errorf("%w: spike-range total %d exceeds overall total %d", ErrInvalidCounts, c.CitySpike, c.CityOverall)
	case c.AreaSpike > c.AreaOverall || c.AreaSpike > c.CitySpike:
		return fmt.Errorf("%w: area spike-range count %d exceeds its totals", ErrInvalidCounts, c.AreaSpike)
	}
	return nil
}

// CumulativeAtMost returns P(X <= x) for X ~ Hypergeometric(N, G, n).
func CumulativeAtMost(N, G, n, x int64) (float64, error) {
	c := Counts{CityOverall: N, AreaOverall: G, CitySpike: n, AreaSpike: x}
	if err := c.validate(); err != nil {
		return 0, err
	}
	return newDist(c).atMost(x), nil
}

// UpperTail returns P(X >= x), the p-value of the spike test.
func UpperTail(c Counts) (float64, error) {
	if err := c.validate(); err != nil {
		return 0, err
	}
	return newDist(c).atLeast(c.AreaSpike), nil
}

// dist is Hypergeometric(N, G, n) with support [lo, hi]. Tails are summed
// outward from the mode, where terms only shrink, so an underflowed term ends
// the walk; the tail on the mode's side is taken as a complement.
type dist struct {
	N, G, n  int64
	lo, hi   int64
	mode     int64
	logTotal float64 // ln C(N, n)
}

func newDist(c Counts) dist {
	N, G, n := c.CityOverall, c.AreaOverall, c.CitySpike
	d := dist{N: N, G: G, n: n, lo: n - (N - G), hi: n, logTotal: logChoose(N, n)}
	if d.lo < 0 {
		d.lo = 0
	}
	if G < d.hi {
		d.hi = G
	}
	d.mode = (n + 1) * (G + 1) / (N + 2)
	if d.mode < d.lo {
		d.mode = d.lo
	}
	if d.mode > d.hi {
		d.mode = d.hi
	}
	return d
}

// pmf is P(X = i).
func (d dist) pmf(i int64) float64 {
	if i < d.lo || i > d.hi {
		return 0
	}
	return math.Exp(logChoose(d.G, i) + logChoose(d.N-d.G, d.n-i) - d.logTotal)
}

// down sums P(X = i) for i from x down to lo, x <= mode.
// p(i-1) = p(i) * i(N-G-n+i) / ((G-i+1)(n-i+1))
func (d dist) down(x int64) float64 {
	p := d.pmf(x)
	sum := p
	for i := x; i > d.lo && p > 0; i-- {
		p *= float64(i) * float64(d.N-d.G-d.n+i) / (float64(d.G-i+1) * float64(d.n-i+1))
		sum += p
	}
	return sum
}

// up sums P(X = i) for i from x up to hi, x >= mode.
// p(i+1) = p(i) * (G-i)(n-i) / ((i+1)(N-G-n+i+1))
func (d dist) up(x int64) float64 {
	p := d.pmf(x)
	sum := p
	for i := x; i < d.hi && p > 0; i++ {
		p *= float64(d.G-i) * float64(d.n-i) / (float64(i+1) * float64(d.N-d.G-d.n+i+1))
		sum += p
	}
	return sum
}

func (d dist) atMost(x int64) float64 {
	switch {
	case x < d.lo:
		return 0
	case x >= d.hi:
		return 1
	case x < d.mode:
		return clamp(d.down(x))
	}
	return clamp(1 - d.up(x+1))
}

func (d dist) atLeast(x int64) float64 {
	switch {
	case x <= d.lo:
		return 1
	case x > d.hi:
		return 0
	case x > d.mode:
		return clamp(d.up(x))
	}
	return clamp(1 - d.down(x-1))
}

func clamp(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}

func logChoose(n, k int64) float64 {
	return lgamma(n+1) - lgamma(k+1) - lgamma(n-k+1)
}

func lgamma(v int64) float64 {
	r, _ := math.Lgamma(float64(v))
	return r
}

// Classification is the outcome of the spike test.
type Classification int

const (
	Normal Classification = iota
	Spike
	AntiSpike
)

func (c Classification) String() string {
	switch c {
	case Spike:
		return "spike"
	case AntiSpike:
		return "anti-spike"
	default:
		return "normal"
	}
}

// Classify runs the test and returns the classification with its p-value.
func Classify(c Counts) (Classification, float64, error) {
	p, err := UpperTail(c)
	if err != nil {
		return Normal, 0, err
	}
	switch {
	case p < SpikeCutoff:
		return Spike, p, nil
	case p > AntiSpikeCutoff:
		return AntiSpike, p, nil
	}
	return Normal, p, nil
}
