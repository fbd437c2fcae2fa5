package settlement

import "github.com/holiman/uint256"

// Precision is the fixed-point scale for score math (1_000_000 = 1.0).
const Precision = 1_000_000

// convictionBonusScaled is the multiplier for bets whose prediction was
// never overwritten on the delegated path (1.5x).
const convictionBonusScaled = 1_500_000

// AccuracyScore returns 1.0 - |prediction-result|/buffer, scaled by
// Precision and floored at zero. Predictions at or beyond the buffer score
// nothing; an exact prediction scores the full Precision.
func AccuracyScore(prediction, result, buffer uint64) uint64 {
	if buffer == 0 {
		return 0
	}
	diff := prediction - result
	if result > prediction {
		diff = result - prediction
	}
	if diff >= buffer {
		return 0
	}
	errorFraction := new(uint256.Int).Mul(uint256.NewInt(diff), uint256.NewInt(Precision))
	errorFraction.Div(errorFraction, uint256.NewInt(buffer))
	return Precision - errorFraction.Uint64()
}

// TimeBonus returns 1.0 + remaining/total, scaled by Precision: 2.0x for an
// entry at pool start decaying linearly to 1.0x at the close.
func TimeBonus(startTime, endTime, entryTime int64) uint64 {
	if entryTime >= endTime || endTime <= startTime {
		return Precision
	}
	if entryTime < startTime {
		entryTime = startTime
	}
	total := uint64(endTime - startTime)
	remaining := uint64(endTime - entryTime)
	bonus := new(uint256.Int).Mul(uint256.NewInt(remaining), uint256.NewInt(Precision))
	bonus.Div(bonus, uint256.NewInt(total))
	return Precision + bonus.Uint64()
}

// ConvictionBonus rewards a prediction that was never overwritten.
func ConvictionBonus(updateCount uint32) uint64 {
	if updateCount == 0 {
		return convictionBonusScaled
	}
	return Precision
}

// Weight computes stake x accuracy x time x conviction, dividing out the
// three Precision scales. Monotonically increasing in stake and in
// accuracy, hence monotonically decreasing in prediction distance.
func Weight(stake, accuracyScaled, timeScaled, convictionScaled uint64) uint256.Int {
	w := uint256.NewInt(stake)
	w.Mul(w, uint256.NewInt(accuracyScaled))
	w.Mul(w, uint256.NewInt(timeScaled))
	w.Mul(w, uint256.NewInt(convictionScaled))
	p := uint256.NewInt(Precision)
	w.Div(w, p)
	w.Div(w, p)
	w.Div(w, p)
	return *w
}

// Payout prices a bet's share of the pot: pot x weight / totalWeight.
func Payout(pot uint64, weight, totalWeight *uint256.Int) uint64 {
	if weight.IsZero() || totalWeight.IsZero() {
		return 0
	}
	out := new(uint256.Int).Mul(uint256.NewInt(pot), weight)
	out.Div(out, totalWeight)
	return out.Uint64()
}

// Class buckets a revealed prediction for reporting. Payouts are computed
// continuously from the weight, never from the class.
type Class string

const (
	ClassExact     Class = "exact"
	ClassPartial   Class = "partial"
	ClassTotalLoss Class = "total_loss"
)

// Classify returns the reporting class of a prediction against the
// resolved outcome.
func Classify(prediction, result, buffer uint64) Class {
	diff := prediction - result
	if result > prediction {
		diff = result - prediction
	}
	switch {
	case diff == 0:
		return ClassExact
	case diff < buffer:
		return ClassPartial
	default:
		return ClassTotalLoss
	}
}
