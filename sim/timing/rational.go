package timing

import (
	"math/big"

	"golang.org/x/exp/constraints"
)

// IntGCD returns the greatest common divisor of a and b. The result is never
// negative.
func IntGCD[T constraints.Integer](a, b T) T {
	for b != 0 {
		a, b = b, a%b
	}

	if a < 0 {
		return -a
	}

	return a
}

// IntLCM returns the least common multiple of a and b.
func IntLCM[T constraints.Integer](a, b T) T {
	if a == 0 || b == 0 {
		return 0
	}

	l := a / IntGCD(a, b) * b
	if l < 0 {
		return -l
	}

	return l
}

// GCD returns the largest rational that divides both a and b an integer
// number of times: the gcd of the numerators over the lcm of the
// denominators.
func GCD(a, b VTimeInBar) VTimeInBar {
	num := new(big.Int).GCD(nil, nil, abs(a.rat().Num()), abs(b.rat().Num()))
	den := lcm(a.rat().Denom(), b.rat().Denom())

	return VTimeInBar{r: new(big.Rat).SetFrac(num, den)}
}

// LCM returns the smallest rational that both a and b divide: the lcm of the
// numerators over the gcd of the denominators.
func LCM(a, b VTimeInBar) VTimeInBar {
	num := lcm(abs(a.rat().Num()), abs(b.rat().Num()))
	den := new(big.Int).GCD(nil, nil, a.rat().Denom(), b.rat().Denom())

	return VTimeInBar{r: new(big.Rat).SetFrac(num, den)}
}

// CommonInterval folds GCD over all non-zero intervals. It returns false if
// none of them is positive.
func CommonInterval(intervals ...VTimeInBar) (VTimeInBar, bool) {
	var (
		common VTimeInBar
		found  bool
	)

	for _, i := range intervals {
		if i.Sign() <= 0 {
			continue
		}

		if !found {
			common = i
			found = true

			continue
		}

		common = GCD(common, i)
	}

	return common, found
}

func abs(x *big.Int) *big.Int {
	return new(big.Int).Abs(x)
}

func lcm(a, b *big.Int) *big.Int {
	if a.Sign() == 0 || b.Sign() == 0 {
		return new(big.Int)
	}

	g := new(big.Int).GCD(nil, nil, a, b)
	l := new(big.Int).Quo(a, g)

	return l.Mul(l, b)
}
