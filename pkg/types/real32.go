//go:build singleprec

package types

// Real is the floating precision used by every bridge component.
type Real = float32

// RealBits is the size of Real in bits, recorded in restart blocks so a
// mixed-precision restore fails loudly instead of reading garbage.
const RealBits = 32
