package timing

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"golang.org/x/exp/constraints"
)

// VTimeInBar is a position or a length on the sequencer timeline, measured in
// bars. It is an exact rational number; the zero value is the start of the
// timeline. Values are immutable: every operation returns a new value.
type VTimeInBar struct {
	r *big.Rat
}

var ratZero = new(big.Rat)

// floatTolerance bounds the error accepted when a float is turned into a
// rational position.
var floatTolerance = big.NewRat(1, 1_000_000_000)

// Bars returns a whole number of bars.
func Bars[T constraints.Integer](n T) VTimeInBar {
	return VTimeInBar{r: new(big.Rat).SetInt64(int64(n))}
}

// Frac returns num/den bars. It panics if den is zero.
func Frac[T constraints.Integer](num, den T) VTimeInBar {
	if den == 0 {
		panic("timing: zero denominator")
	}

	return VTimeInBar{r: big.NewRat(int64(num), int64(den))}
}

// FromRat copies r into a VTimeInBar.
func FromRat(r *big.Rat) VTimeInBar {
	if r == nil {
		return VTimeInBar{}
	}

	return VTimeInBar{r: new(big.Rat).Set(r)}
}

// FromFloat converts f into the simplest rational within one billionth of a
// bar. It panics on NaN and infinities.
func FromFloat(f float64) VTimeInBar {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic(fmt.Sprintf("timing: invalid time %v", f))
	}

	exact := new(big.Rat).SetFloat64(f)

	return VTimeInBar{r: rationalize(exact, floatTolerance)}
}

// Parse reads positions written as integers ("3"), fractions ("3/4"),
// decimals ("0.75") or mixed numbers ("1+1/4").
func Parse(s string) (VTimeInBar, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return VTimeInBar{}, fmt.Errorf("timing: empty position")
	}

	if whole, frac, ok := strings.Cut(s, "+"); ok && whole != "" {
		w, err := Parse(whole)
		if err != nil {
			return VTimeInBar{}, err
		}

		f, err := Parse(frac)
		if err != nil {
			return VTimeInBar{}, err
		}

		return w.Add(f), nil
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return VTimeInBar{}, fmt.Errorf("timing: cannot parse position %q", s)
	}

	return VTimeInBar{r: r}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) VTimeInBar {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return t
}

func (t VTimeInBar) rat() *big.Rat {
	if t.r == nil {
		return ratZero
	}

	return t.r
}

// Rat returns a copy of the underlying rational.
func (t VTimeInBar) Rat() *big.Rat {
	return new(big.Rat).Set(t.rat())
}

// Num returns a copy of the numerator in lowest terms.
func (t VTimeInBar) Num() *big.Int {
	return new(big.Int).Set(t.rat().Num())
}

// Denom returns a copy of the denominator in lowest terms.
func (t VTimeInBar) Denom() *big.Int {
	return new(big.Int).Set(t.rat().Denom())
}

// Add returns t + o.
func (t VTimeInBar) Add(o VTimeInBar) VTimeInBar {
	return VTimeInBar{r: new(big.Rat).Add(t.rat(), o.rat())}
}

// Sub returns t - o.
func (t VTimeInBar) Sub(o VTimeInBar) VTimeInBar {
	return VTimeInBar{r: new(big.Rat).Sub(t.rat(), o.rat())}
}

// Mul returns t × o.
func (t VTimeInBar) Mul(o VTimeInBar) VTimeInBar {
	return VTimeInBar{r: new(big.Rat).Mul(t.rat(), o.rat())}
}

// MulInt returns t × n.
func (t VTimeInBar) MulInt(n int64) VTimeInBar {
	return VTimeInBar{r: new(big.Rat).Mul(t.rat(), new(big.Rat).SetInt64(n))}
}

// Div returns t / o. It panics if o is zero.
func (t VTimeInBar) Div(o VTimeInBar) VTimeInBar {
	if o.IsZero() {
		panic("timing: division by zero")
	}

	return VTimeInBar{r: new(big.Rat).Quo(t.rat(), o.rat())}
}

// DivInt returns t / n. It panics if n is zero.
func (t VTimeInBar) DivInt(n int64) VTimeInBar {
	return t.Div(Bars(n))
}

// Neg returns -t.
func (t VTimeInBar) Neg() VTimeInBar {
	return VTimeInBar{r: new(big.Rat).Neg(t.rat())}
}

// Abs returns |t|.
func (t VTimeInBar) Abs() VTimeInBar {
	return VTimeInBar{r: new(big.Rat).Abs(t.rat())}
}

// Cmp compares t and o and returns -1, 0 or +1.
func (t VTimeInBar) Cmp(o VTimeInBar) int {
	return t.rat().Cmp(o.rat())
}

// Equal tells if t and o are the same position.
func (t VTimeInBar) Equal(o VTimeInBar) bool {
	return t.Cmp(o) == 0
}

// Less tells if t < o.
func (t VTimeInBar) Less(o VTimeInBar) bool {
	return t.Cmp(o) < 0
}

// LessEq tells if t <= o.
func (t VTimeInBar) LessEq(o VTimeInBar) bool {
	return t.Cmp(o) <= 0
}

// Sign returns -1, 0 or +1 depending on the sign of t.
func (t VTimeInBar) Sign() int {
	return t.rat().Sign()
}

// IsZero tells if t is 0.
func (t VTimeInBar) IsZero() bool {
	return t.Sign() == 0
}

// IsInt tells if t is a whole number of bars.
func (t VTimeInBar) IsInt() bool {
	return t.rat().IsInt()
}

// Floor returns the largest integer not greater than t.
func (t VTimeInBar) Floor() *big.Int {
	r := t.rat()

	// Euclidean division floors for a positive denominator.
	return new(big.Int).Div(r.Num(), r.Denom())
}

// Round returns the nearest integer to t, rounding halves away from zero.
func (t VTimeInBar) Round() *big.Int {
	half := big.NewRat(1, 2)
	if t.Sign() >= 0 {
		return t.Add(VTimeInBar{r: half}).Floor()
	}

	n := t.Neg().Add(VTimeInBar{r: half}).Floor()

	return n.Neg(n)
}

// Float64 returns the nearest float64 value.
func (t VTimeInBar) Float64() float64 {
	f, _ := t.rat().Float64()
	return f
}

// String formats t as an integer or a reduced fraction.
func (t VTimeInBar) String() string {
	return t.rat().RatString()
}

// Key returns a canonical string usable as a map key.
func (t VTimeInBar) Key() string {
	return t.rat().RatString()
}

// MarshalText implements encoding.TextMarshaler.
func (t VTimeInBar) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *VTimeInBar) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}

	*t = v

	return nil
}

// Min returns the smaller of a and b.
func Min(a, b VTimeInBar) VTimeInBar {
	if b.Less(a) {
		return b
	}

	return a
}

// Max returns the larger of a and b.
func Max(a, b VTimeInBar) VTimeInBar {
	if a.Less(b) {
		return b
	}

	return a
}

// Coerce converts the numeric representations found in series and score
// files into a VTimeInBar.
func Coerce(v any) (VTimeInBar, error) {
	switch x := v.(type) {
	case VTimeInBar:
		return x, nil
	case *VTimeInBar:
		if x == nil {
			return VTimeInBar{}, fmt.Errorf("timing: nil position")
		}
		return *x, nil
	case *big.Rat:
		return FromRat(x), nil
	case int:
		return Bars(x), nil
	case int32:
		return Bars(x), nil
	case int64:
		return Bars(x), nil
	case uint:
		return Bars(x), nil
	case float32:
		return FromFloat(float64(x)), nil
	case float64:
		return FromFloat(x), nil
	case string:
		return Parse(x)
	default:
		return VTimeInBar{}, fmt.Errorf("timing: cannot use %T as a position", v)
	}
}

// rationalize returns the simplest rational within tol of x, walking the
// continued fraction expansion of x.
func rationalize(x, tol *big.Rat) *big.Rat {
	neg := x.Sign() < 0
	y := new(big.Rat).Abs(x)

	h0, h1 := big.NewInt(0), big.NewInt(1)
	k0, k1 := big.NewInt(1), big.NewInt(0)
	rem := new(big.Rat).Set(y)

	for i := 0; i < 64; i++ {
		a := new(big.Int).Quo(rem.Num(), rem.Denom())

		h2 := new(big.Int).Add(new(big.Int).Mul(a, h1), h0)
		k2 := new(big.Int).Add(new(big.Int).Mul(a, k1), k0)
		h0, h1 = h1, h2
		k0, k1 = k1, k2

		approx := new(big.Rat).SetFrac(h1, k1)
		diff := new(big.Rat).Sub(approx, y)
		if diff.Abs(diff).Cmp(tol) <= 0 {
			break
		}

		frac := new(big.Rat).Sub(rem, new(big.Rat).SetInt(a))
		if frac.Sign() == 0 {
			break
		}

		rem = frac.Inv(frac)
	}

	result := new(big.Rat).SetFrac(h1, k1)
	if neg {
		result.Neg(result)
	}

	return result
}
