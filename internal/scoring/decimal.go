package scoring

import (
	"math"

	"github.com/cockroachdb/apd/v3"
)

// decimalCtx rounds half away from zero. Context methods do not mutate the
// context, so one value serves every goroutine.
var decimalCtx = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}()

var hundred = apd.New(100, 0)

func toDecimal(f float64) *apd.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return apd.New(0, 0)
	}
	d := new(apd.Decimal)
	if _, err := d.SetFloat64(f); err != nil {
		return apd.New(0, 0)
	}
	return d
}

func toFloat(d *apd.Decimal) float64 {
	f, err := d.Float64()
	if err != nil {
		return 0
	}
	return f
}

// quantize2 rounds d to two decimal places.
func quantize2(d *apd.Decimal) *apd.Decimal {
	out := new(apd.Decimal)
	if _, err := decimalCtx.Quantize(out, d, -2); err != nil {
		return d
	}
	return out
}

// Round2 rounds f to two decimal places, half away from zero, in decimal arithmetic
// so 2.675 becomes 2.68.
func Round2(f float64) float64 {
	return toFloat(quantize2(toDecimal(f)))
}

// weighted returns score * weight / 100 unrounded.
func weighted(score, weight float64) *apd.Decimal {
	prod := new(apd.Decimal)
	_, _ = decimalCtx.Mul(prod, toDecimal(score), toDecimal(weight))
	out := new(apd.Decimal)
	_, _ = decimalCtx.Quo(out, prod, hundred)
	return out
}
