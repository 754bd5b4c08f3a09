package purchase

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a catalog price in major units (rupees) into the minor unit the
// gateway expects (paise), rounding half away from zero.
func ToMinorUnits(price float64) (int64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	minor := decimal.NewFromFloat(price).Mul(hundred).Round(0)
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: %v overflows", ErrInvalidPrice, price)
	}
	return minor.IntPart(), nil
}
