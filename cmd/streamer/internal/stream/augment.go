package stream

import (
	"github.com/shopspring/decimal"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// Augment attaches change-versus-previous-close fields to a batch. Symbols
// missing from closes keep nil change fields; a zero previous close yields a
// change amount but no percentage.
func Augment(snapshots []models.Snapshot, closes map[string]float64) []models.EnrichedSnapshot {
	enriched := make([]models.EnrichedSnapshot, len(snapshots))
	for i, snap := range snapshots {
		enriched[i] = models.EnrichedSnapshot{Snapshot: snap}

		prev, ok := closes[snap.Symbol]
		if !ok {
			continue
		}

		prevDec := decimal.NewFromFloat(prev)
		amount := decimal.NewFromFloat(snap.Price).Sub(prevDec).Round(2)

		amountF, _ := amount.Float64()
		enriched[i].PreviousClose = &prev
		enriched[i].ChangeAmount = &amountF

		if !prevDec.IsZero() {
			pctF, _ := amount.Div(prevDec).Mul(hundred).Round(2).Float64()
			enriched[i].ChangePercent = &pctF
		}

		switch amount.Sign() {
		case 1:
			enriched[i].Direction = models.DirectionUp
		case -1:
			enriched[i].Direction = models.DirectionDown
		default:
			enriched[i].Direction = models.DirectionFlat
		}
	}
	return enriched
}
