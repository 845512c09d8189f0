// Package types defines the ByteSil codec and the 16-layer State built from it.
// A ByteSil packs a complex number into one byte in log-polar form:
// a 4-bit signed magnitude exponent (rho) and a 4-bit phase index (theta).
package types

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// Field limits.
const (
	RhoMin   = -8
	RhoMax   = 7
	ThetaMax = 15

	// MagnitudeMin is e^-8, the smallest magnitude that is not NULL.
	MagnitudeMin = 0.00033546262790251185
)

// ErrRootZero is returned by Root when n is zero.
var ErrRootZero = errors.New("root of order zero")

// ByteSil is a complex number z = e^rho * e^(i*theta*pi/8).
type ByteSil struct {
	Rho   int8
	Theta uint8
}

// Named values.
var (
	Null   = ByteSil{Rho: RhoMin, Theta: 0}
	One    = ByteSil{Rho: 0, Theta: 0}
	I      = ByteSil{Rho: 0, Theta: 4}
	NegOne = ByteSil{Rho: 0, Theta: 8}
	NegI   = ByteSil{Rho: 0, Theta: 12}
	Max    = ByteSil{Rho: RhoMax, Theta: 0}
)

// New clamps rho into [-8,7] and reduces theta modulo 16.
func New(rho int8, theta uint8) ByteSil {
	return ByteSil{Rho: clampRho(int(rho)), Theta: theta & 0x0F}
}

func clampRho(v int) int8 {
	if v < RhoMin {
		return RhoMin
	}
	if v > RhoMax {
		return RhoMax
	}
	return int8(v)
}

func wrapTheta(v int) uint8 {
	return uint8(((v % 16) + 16) % 16)
}

// roundMean is the arithmetic mean of vals rounded half away from zero.
func roundMean(sum, n int) int {
	return int(math.Round(float64(sum) / float64(n)))
}

// FromByte unpacks b: high nibble is rho+8, low nibble is theta.
func FromByte(b byte) ByteSil {
	return ByteSil{Rho: int8(b>>4) - 8, Theta: b & 0x0F}
}

// Byte packs the value into one byte. FromByte(v.Byte()) == v.
func (b ByteSil) Byte() byte {
	return byte(b.Rho+8)<<4 | b.Theta&0x0F
}

// FromComplex quantizes z. Magnitudes below MagnitudeMin become Null.
func FromComplex(z complex128) ByteSil {
	mag := cmplx.Abs(z)
	if mag < MagnitudeMin {
		return Null
	}
	phase := math.Mod(cmplx.Phase(z), 2*math.Pi)
	if phase < 0 {
		phase += 2 * math.Pi
	}
	theta := int(math.Round(phase/math.Pi*8)) % 16
	return ByteSil{Rho: clampRho(int(math.Round(math.Log(mag)))), Theta: uint8(theta)}
}

// ToComplex expands the value back to Cartesian form.
func (b ByteSil) ToComplex() complex128 {
	return cmplx.Rect(b.Magnitude(), b.PhaseRadians())
}

// Magnitude returns e^rho.
func (b ByteSil) Magnitude() float64 { return math.Exp(float64(b.Rho)) }

// PhaseRadians returns theta*pi/8.
func (b ByteSil) PhaseRadians() float64 { return float64(b.Theta) * math.Pi / 8 }

// ToPolar returns the magnitude and the phase in degrees.
func (b ByteSil) ToPolar() (float64, float64) {
	return b.Magnitude(), float64(b.Theta) * 22.5
}

// Norm maps rho onto [0,15].
func (b ByteSil) Norm() uint8 { return uint8(b.Rho + 8) }

// Phase returns the raw phase index.
func (b ByteSil) Phase() uint8 { return b.Theta }

func (b ByteSil) IsNull() bool      { return b.Rho == RhoMin }
func (b ByteSil) IsReal() bool      { return b.Theta == 0 || b.Theta == 8 }
func (b ByteSil) IsImaginary() bool { return b.Theta == 4 || b.Theta == 12 }

// Mul multiplies: rho adds, theta adds mod 16.
func (b ByteSil) Mul(o ByteSil) ByteSil {
	return ByteSil{
		Rho:   clampRho(int(b.Rho) + int(o.Rho)),
		Theta: wrapTheta(int(b.Theta) + int(o.Theta)),
	}
}

// Div divides: rho subtracts, theta subtracts mod 16.
func (b ByteSil) Div(o ByteSil) ByteSil {
	return ByteSil{
		Rho:   clampRho(int(b.Rho) - int(o.Rho)),
		Theta: wrapTheta(int(b.Theta) - int(o.Theta)),
	}
}

// Pow raises to the integer power n.
func (b ByteSil) Pow(n int) ByteSil {
	return ByteSil{
		Rho:   clampRho(int(b.Rho) * n),
		Theta: wrapTheta(int(b.Theta) * n),
	}
}

// Root takes the integer root n. Division truncates toward zero.
func (b ByteSil) Root(n int) (ByteSil, error) {
	if n == 0 {
		return Null, ErrRootZero
	}
	return ByteSil{
		Rho:   clampRho(int(b.Rho) / n),
		Theta: wrapTheta(int(b.Theta) / n),
	}, nil
}

// Inv is 1/z. Negating RhoMin saturates at RhoMax.
func (b ByteSil) Inv() ByteSil {
	return ByteSil{Rho: clampRho(-int(b.Rho)), Theta: wrapTheta(-int(b.Theta))}
}

// Conj is the complex conjugate.
func (b ByteSil) Conj() ByteSil {
	return ByteSil{Rho: b.Rho, Theta: wrapTheta(-int(b.Theta))}
}

// Xor combines the raw fields bitwise. Xor(Xor(a, b), b) == a.
func (b ByteSil) Xor(o ByteSil) ByteSil {
	// both rho are 4-bit two's complement values, so the xor stays in range
	return ByteSil{Rho: b.Rho ^ o.Rho, Theta: (b.Theta ^ o.Theta) & 0x0F}
}

// Mix is the rounded mean of each field.
func (b ByteSil) Mix(o ByteSil) ByteSil {
	return ByteSil{
		Rho:   clampRho(roundMean(int(b.Rho)+int(o.Rho), 2)),
		Theta: wrapTheta(roundMean(int(b.Theta)+int(o.Theta), 2)),
	}
}

// Add sums through Cartesian form.
func (b ByteSil) Add(o ByteSil) ByteSil {
	return FromComplex(b.ToComplex() + o.ToComplex())
}

// Sub subtracts through Cartesian form.
func (b ByteSil) Sub(o ByteSil) ByteSil {
	return FromComplex(b.ToComplex() - o.ToComplex())
}

// Scale shifts rho by delta.
func (b ByteSil) Scale(delta int) ByteSil {
	return ByteSil{Rho: clampRho(int(b.Rho) + delta), Theta: b.Theta}
}

// Rotate shifts theta by steps of pi/8.
func (b ByteSil) Rotate(steps int) ByteSil {
	return ByteSil{Rho: b.Rho, Theta: wrapTheta(int(b.Theta) + steps)}
}

// Lerp interpolates through Cartesian form, t in [0,1].
func (b ByteSil) Lerp(o ByteSil, t float64) ByteSil {
	z := b.ToComplex()*complex(1-t, 0) + o.ToComplex()*complex(t, 0)
	return FromComplex(z)
}

// Slerp interpolates the log-polar fields directly, t in [0,1].
func (b ByteSil) Slerp(o ByteSil, t float64) ByteSil {
	rho := math.Round(float64(b.Rho)*(1-t) + float64(o.Rho)*t)
	theta := math.Round(float64(b.Theta)*(1-t) + float64(o.Theta)*t)
	return ByteSil{Rho: clampRho(int(rho)), Theta: wrapTheta(int(theta))}
}

func (b ByteSil) String() string {
	if b.IsNull() {
		return "NULL"
	}
	return fmt.Sprintf("(ρ=%+d, θ=%d)", b.Rho, b.Theta)
}
