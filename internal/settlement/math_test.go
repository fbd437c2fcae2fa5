package settlement

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccuracyScore(t *testing.T) {
	tests := []struct {
		name       string
		prediction uint64
		result     uint64
		buffer     uint64
		want       uint64
	}{
		{"exact", 1000, 1000, 100, Precision},
		{"half off", 1050, 1000, 100, Precision / 2},
		{"at buffer edge", 1100, 1000, 100, 0},
		{"beyond buffer", 5000, 1000, 100, 0},
		{"under by half", 950, 1000, 100, Precision / 2},
		{"zero buffer", 1000, 1000, 0, 0},
		{"quarter off", 25, 0, 100, Precision * 3 / 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AccuracyScore(tt.prediction, tt.result, tt.buffer))
		})
	}
}

func TestAccuracyScoreMonotone(t *testing.T) {
	// Closer predictions never score lower.
	prev := uint64(Precision + 1)
	for diff := uint64(0); diff <= 100; diff += 10 {
		score := AccuracyScore(1000+diff, 1000, 100)
		require.Less(t, score, prev, "diff=%d", diff)
		prev = score
	}
}

func TestTimeBonus(t *testing.T) {
	const (
		start = int64(1_000)
		end   = int64(2_000)
	)
	assert.Equal(t, uint64(2*Precision), TimeBonus(start, end, start), "entry at open pays 2x")
	assert.Equal(t, uint64(Precision*3/2), TimeBonus(start, end, 1_500), "midpoint pays 1.5x")
	assert.Equal(t, uint64(Precision), TimeBonus(start, end, end), "entry at close pays 1x")
	assert.Equal(t, uint64(Precision), TimeBonus(start, end, end+50), "late entry clamps to 1x")
	assert.Equal(t, uint64(2*Precision), TimeBonus(start, end, start-50), "early entry clamps to 2x")
	assert.Equal(t, uint64(Precision), TimeBonus(end, end, 1_500), "degenerate window pays 1x")
}

func TestConvictionBonus(t *testing.T) {
	assert.Equal(t, uint64(convictionBonusScaled), ConvictionBonus(0))
	assert.Equal(t, uint64(Precision), ConvictionBonus(1))
	assert.Equal(t, uint64(Precision), ConvictionBonus(7))
}

func TestWeight(t *testing.T) {
	// stake x 1.0 x 1.0 x 1.0 = stake
	w := Weight(40_000_000, Precision, Precision, Precision)
	assert.Equal(t, uint64(40_000_000), w.Uint64())

	// stake x 1.0 x 2.0 x 1.5 = 3x stake
	w = Weight(40_000_000, Precision, 2*Precision, convictionBonusScaled)
	assert.Equal(t, uint64(120_000_000), w.Uint64())

	// zero accuracy zeroes the weight regardless of bonuses
	w = Weight(40_000_000, 0, 2*Precision, convictionBonusScaled)
	assert.True(t, w.IsZero())
}

func TestWeightNoOverflow(t *testing.T) {
	// A maximal stake with maximal bonuses must not wrap.
	w := Weight(1<<63, Precision, 2*Precision, convictionBonusScaled)
	expect := new(uint256.Int).Mul(uint256.NewInt(1<<63), uint256.NewInt(3))
	assert.Equal(t, expect.String(), w.String())
}

func TestPayout(t *testing.T) {
	total := uint256.NewInt(100)
	half := uint256.NewInt(50)

	assert.Equal(t, uint64(500), Payout(1_000, half, total))
	assert.Equal(t, uint64(1_000), Payout(1_000, total, total))
	assert.Equal(t, uint64(0), Payout(1_000, uint256.NewInt(0), total))
	assert.Equal(t, uint64(0), Payout(1_000, half, uint256.NewInt(0)))
}

func TestPayoutConservation(t *testing.T) {
	// Flooring may leave dust in the vault but can never overpay.
	weights := []*uint256.Int{
		uint256.NewInt(3), uint256.NewInt(7), uint256.NewInt(11),
	}
	total := uint256.NewInt(0)
	for _, w := range weights {
		total.Add(total, w)
	}
	const pot = uint64(1_000_003)
	var paid uint64
	for _, w := range weights {
		paid += Payout(pot, w, total)
	}
	assert.LessOrEqual(t, paid, pot)
	assert.GreaterOrEqual(t, paid, pot-uint64(len(weights)))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassExact, Classify(1000, 1000, 100))
	assert.Equal(t, ClassPartial, Classify(1050, 1000, 100))
	assert.Equal(t, ClassPartial, Classify(950, 1000, 100))
	assert.Equal(t, ClassTotalLoss, Classify(1100, 1000, 100))
	assert.Equal(t, ClassTotalLoss, Classify(0, 1000, 100))
}
