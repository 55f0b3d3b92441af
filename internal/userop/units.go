package userop

import (
	"fmt"
	"math/big"
	"strconv"
)

// ToWei converts a decimal token amount to base units.
func ToWei(amount float64, decimals uint8) (*big.Int, error) {
	if amount < 0 {
		return nil, fmt.Errorf("negative amount %v", amount)
	}
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(amount, 'f', -1, 64))
	if !ok {
		return nil, fmt.Errorf("bad amount %v", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// FromWei renders base units with 6 decimals.
func FromWei(x *big.Int, decimals uint8) string {
	if x == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(new(big.Int).Set(x), scale).FloatString(6)
}

// WeiToFloat is a lossy conversion for threshold comparisons.
func WeiToFloat(x *big.Int, decimals uint8) float64 {
	if x == nil {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	f, _ := new(big.Rat).SetFrac(x, scale).Float64()
	return f
}
