// Package reconcile matches billed line items between an AR1 arbitration
// request and an NF3 no-fault form.
package reconcile

import (
	"github.com/xhad/claimcheck/internal/models"
)

// Compare reconciles ar1 against nf3.
//
// Each AR1 item claims the first unmatched NF3 item with the same date of
// service and procedure code, in list order. Matching is greedy, so with
// duplicate (date, code) keys the result depends on item order.
func Compare(ar1, nf3 []models.LineItem) []models.Mismatch {
	mismatches := []models.Mismatch{}
	matched := make([]bool, len(nf3))

	for _, a := range ar1 {
		found := false
		for idx, b := range nf3 {
			if matched[idx] {
				continue
			}
			if !a.Date.Equal(b.Date) || !a.Code.Equal(b.Code) {
				continue
			}
			if !a.Amount.Equal(b.Amount) {
				mismatches = append(mismatches, models.Mismatch{
					Type:      models.AmountMismatch,
					Date:      a.Date,
					Code:      a.Code,
					AR1Amount: amount(a.Amount),
					NF3Amount: amount(b.Amount),
				})
			}
			matched[idx] = true
			found = true
			break
		}
		if !found {
			mismatches = append(mismatches, models.Mismatch{
				Type:      models.MissingInNF3,
				Date:      a.Date,
				Code:      a.Code,
				AR1Amount: amount(a.Amount),
			})
		}
	}

	for idx, b := range nf3 {
		if matched[idx] {
			continue
		}
		mismatches = append(mismatches, models.Mismatch{
			Type:      models.ExtraInNF3,
			Date:      b.Date,
			Code:      b.Code,
			NF3Amount: amount(b.Amount),
		})
	}

	return mismatches
}

// CompareExtractions builds a full report from two billing extractions.
// Claim numbers and totals are reported alongside but never produce
// mismatch records.
func CompareExtractions(ar1, nf3 *models.Extraction) (models.Report, error) {
	ar1Items, err := ar1.LineItems()
	if err != nil {
		return models.Report{}, err
	}
	nf3Items, err := nf3.LineItems()
	if err != nil {
		return models.Report{}, err
	}

	report := models.Report{
		AR1ClaimNumber: ar1.ClaimNumber(),
		NF3ClaimNumber: nf3.ClaimNumber(),
		AR1TotalBilled: ar1.TotalBilled(),
		NF3TotalBilled: nf3.TotalBilled(),
		Mismatches:     Compare(ar1Items, nf3Items),
	}
	report.ClaimNumbersMatch = report.AR1ClaimNumber.Equal(report.NF3ClaimNumber)
	return report, nil
}

func amount(v models.Value) *models.Value {
	return &v
}
