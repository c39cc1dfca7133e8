package fairness

import (
	"fmt"

	"github.com/shopspring/decimal"

	"mines-backend/internal/errs"
)

// MultiplierPlaces is the precision payouts are quoted at.
const MultiplierPlaces = 2

// Multiplier returns the house-edge-free payout multiplier after
// safeRevealed safe cells on a board with mineCount mines: the inverse of the
// probability of drawing that many safe cells in a row. The product is
// carried exactly and rounded half-up once at the end.
func Multiplier(safeRevealed, mineCount, boardSize int) (decimal.Decimal, error) {
	if err := checkParams(boardSize, mineCount); err != nil {
		return decimal.Zero, err
	}
	safeTotal := boardSize - mineCount
	if safeRevealed < 0 || safeRevealed > safeTotal {
		return decimal.Zero, fmt.Errorf("%w: %d safe cells revealed of %d", errs.ErrInvalidParameters, safeRevealed, safeTotal)
	}

	num := decimal.NewFromInt(1)
	den := decimal.NewFromInt(1)
	for k := 1; k <= safeRevealed; k++ {
		num = num.Mul(decimal.NewFromInt(int64(boardSize - k + 1)))
		den = den.Mul(decimal.NewFromInt(int64(safeTotal - k + 1)))
	}
	return num.DivRound(den, MultiplierPlaces), nil
}

// MultiplierTable lists the multiplier for every reachable safe count,
// index i holding Multiplier(i, mineCount, boardSize).
func MultiplierTable(mineCount, boardSize int) ([]decimal.Decimal, error) {
	if err := checkParams(boardSize, mineCount); err != nil {
		return nil, err
	}
	table := make([]decimal.Decimal, 0, boardSize-mineCount+1)
	for i := 0; i <= boardSize-mineCount; i++ {
		m, err := Multiplier(i, mineCount, boardSize)
		if err != nil {
			return nil, err
		}
		table = append(table, m)
	}
	return table, nil
}
