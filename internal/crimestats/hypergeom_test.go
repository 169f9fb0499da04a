package crimestats_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/EmpoweredVote/odp-incidents/internal/crimestats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombination(t *testing.T) {
	assert.Equal(t, "10", crimestats.Combination(5, 2).String())
	assert.Equal(t, "1", crimestats.Combination(7, 0).String())
	assert.Equal(t, "0", crimestats.Combination(3, 5).String())
	assert.Equal(t, "0", crimestats.Combination(3, -1).String())
	// far beyond float64 factorials
	assert.Equal(t, "100891344545564193334812497256", crimestats.Combination(100, 50).String())
}

func TestCumulativeAtMost(t *testing.T) {
	p, err := crimestats.CumulativeAtMost(20, 5, 4, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1365.0/4845.0, p, 1e-12)

	p, err = crimestats.CumulativeAtMost(20, 5, 4, 4)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p, 1e-12)

	_, err = crimestats.CumulativeAtMost(10, 11, 4, 0)
	assert.True(t, errors.Is(err, crimestats.ErrInvalidCounts))
}

// exactAtMost sums the distribution with exact binomials.
func exactAtMost(N, G, n, x int64) float64 {
	sum := new(big.Int)
	for i := int64(0); i <= x; i++ {
		term := crimestats.Combination(G, i)
		term.Mul(term, crimestats.Combination(N-G, n-i))
		sum.Add(sum, term)
	}
	f, _ := new(big.Rat).SetFrac(sum, crimestats.Combination(N, n)).Float64()
	return f
}

func TestCumulativeAtMost_MatchesExactSum(t *testing.T) {
	for _, c := range []struct{ N, G, n int64 }{
		{20, 5, 4}, {50, 25, 30}, {120, 7, 60}, {200, 150, 180}, {97, 0, 10}, {64, 64, 8},
	} {
		hi := c.n
		if c.G < hi {
			hi = c.G
		}
		for x := int64(0); x <= hi; x++ {
			got, err := crimestats.CumulativeAtMost(c.N, c.G, c.n, x)
			require.NoError(t, err)
			assert.InDelta(t, exactAtMost(c.N, c.G, c.n, x), got, 1e-11, "N=%d G=%d n=%d x=%d", c.N, c.G, c.n, x)

			upper, err := crimestats.UpperTail(crimestats.Counts{CityOverall: c.N, AreaOverall: c.G, CitySpike: c.n, AreaSpike: x})
			require.NoError(t, err)
			want := 1.0
			if x > 0 {
				want = 1 - exactAtMost(c.N, c.G, c.n, x-1)
			}
			assert.InDelta(t, want, upper, 1e-11, "upper N=%d G=%d n=%d x=%d", c.N, c.G, c.n, x)
		}
	}
}

// A year of city-wide incidents against one district's month.
func TestClassify_CityScaleCounts(t *testing.T) {
	tests := []struct {
		areaSpike int64
		wantP     float64
		want      crimestats.Classification
	}{
		{800, 0.0036752624351787254, crimestats.Spike},
		{731, 0.5099198209166802, crimestats.Normal},
		{650, 0.99950979384793, crimestats.AntiSpike},
	}
	for _, tt := range tests {
		c := crimestats.Counts{CityOverall: 160000, AreaOverall: 9000, CitySpike: 13000, AreaSpike: tt.areaSpike}

		type outcome struct {
			class crimestats.Classification
			p     float64
			err   error
		}
		done := make(chan outcome, 1)
		go func() {
			class, p, err := crimestats.Classify(c)
			done <- outcome{class, p, err}
		}()

		select {
		case got := <-done:
			require.NoError(t, got.err)
			assert.Equal(t, tt.want, got.class, "x=%d", tt.areaSpike)
			assert.InDelta(t, tt.wantP, got.p, 1e-9, "x=%d", tt.areaSpike)
		case <-time.After(2 * time.Second):
			t.Fatalf("Classify(%+v) did not finish within 2s", c)
		}
	}
}

func TestUpperTail(t *testing.T) {
	c := crimestats.Counts{CityOverall: 20, AreaOverall: 5, CitySpike: 4, AreaSpike: 1}
	p, err := crimestats.UpperTail(c)
	require.NoError(t, err)
	assert.InDelta(t, 1-1365.0/4845.0, p, 1e-12)

	c.AreaSpike = 0
	p, err = crimestats.UpperTail(c)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		counts crimestats.Counts
		want   crimestats.Classification
	}{
		{"spike", crimestats.Counts{CityOverall: 1000, AreaOverall: 10, CitySpike: 100, AreaSpike: 8}, crimestats.Spike},
		{"anti-spike", crimestats.Counts{CityOverall: 1000, AreaOverall: 500, CitySpike: 100, AreaSpike: 10}, crimestats.AntiSpike},
		{"normal", crimestats.Counts{CityOverall: 1000, AreaOverall: 100, CitySpike: 100, AreaSpike: 10}, crimestats.Normal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, p, err := crimestats.Classify(tt.counts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "p=%v", p)
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
		})
	}
}

func TestClassify_RejectsInconsistentCounts(t *testing.T) {
	bad := []crimestats.Counts{
		{CityOverall: -1},
		{CityOverall: 10, AreaOverall: 11},
		{CityOverall: 10, AreaOverall: 5, CitySpike: 11},
		{CityOverall: 10, AreaOverall: 5, CitySpike: 3, AreaSpike: 4},
		{CityOverall: 10, AreaOverall: 2, CitySpike: 5, AreaSpike: 3},
	}
	for _, c := range bad {
		_, _, err := crimestats.Classify(c)
		assert.True(t, errors.Is(err, crimestats.ErrInvalidCounts), "%+v", c)
	}
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "spike", crimestats.Spike.String())
	assert.Equal(t, "anti-spike", crimestats.AntiSpike.String())
	assert.Equal(t, "normal", crimestats.Normal.String())
}
