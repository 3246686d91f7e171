package blockchain

import (
	"github.com/shopspring/decimal"
)

const lamportDecimals = 9

// ToLamports converts SOL to lamports, rounding down
func ToLamports(sol decimal.Decimal) uint64 {
	if !sol.IsPositive() {
		return 0
	}
	return uint64(sol.Shift(lamportDecimals).Truncate(0).IntPart())
}

// FromLamports converts lamports to SOL
func FromLamports(lamports uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lamports)).Shift(-lamportDecimals)
}
