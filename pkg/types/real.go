//go:build !singleprec

package types

// Real is the floating precision used by every bridge component.
// The default build is double precision; build with -tags singleprec
// to match a single-precision host build.
type Real = float64

// RealBits is the size of Real in bits, recorded in restart blocks so a
// mixed-precision restore fails loudly instead of reading garbage.
const RealBits = 64
