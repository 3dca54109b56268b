package dunning

import (
	"sort"
	"time"

	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
)

// AttemptStats aggregates every attempt that carried the same number.
type AttemptStats struct {
	AttemptNumber int     `json:"attempt_number" csv:"attempt_number"`
	Attempts      int     `json:"attempts" csv:"attempts"`
	Succeeded     int     `json:"succeeded" csv:"succeeded"`
	Failed        int     `json:"failed" csv:"failed"`
	SuccessRate   float64 `json:"success_rate" csv:"success_rate"`
}

// RecoveredAmount is the amount collected by retries in one currency.
type RecoveredAmount struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// RecoveryMetrics summarises dunning effectiveness over a period. It is
// derived from RetryAttempt rows only and never mutates them.
type RecoveryMetrics struct {
	From               time.Time         `json:"from"`
	To                 time.Time         `json:"to"`
	TotalAttempts      int               `json:"total_attempts"`
	SuccessfulAttempts int               `json:"successful_attempts"`
	FailedAttempts     int               `json:"failed_attempts"`
	RunsStarted        int               `json:"runs_started"`
	RunsRecovered      int               `json:"runs_recovered"`
	RunsCancelled      int               `json:"runs_cancelled"`
	RecoveryRate       float64           `json:"recovery_rate"`
	RecoveredAmounts   []RecoveredAmount `json:"recovered_amounts"`
	FailureCodes       map[string]int    `json:"failure_codes"`
	ByAttempt          []AttemptStats    `json:"by_attempt"`
}

// ComputeRecoveryMetrics aggregates attempts. A run starts with a failed
// attempt number 1 and is recovered by any later successful attempt.
func ComputeRecoveryMetrics(from, to time.Time, attempts []*RetryAttempt) *RecoveryMetrics {
	m := &RecoveryMetrics{
		From:         from,
		To:           to,
		FailureCodes: make(map[string]int),
	}

	byNumber := make(map[int]*AttemptStats)
	started := make(map[string]bool)
	recovered := make(map[string]*RetryAttempt)

	for _, a := range attempts {
		m.TotalAttempts++
		stats, ok := byNumber[a.AttemptNumber]
		if !ok {
			stats = &AttemptStats{AttemptNumber: a.AttemptNumber}
			byNumber[a.AttemptNumber] = stats
		}
		stats.Attempts++

		if a.Outcome == types.AttemptOutcomeSucceeded {
			m.SuccessfulAttempts++
			stats.Succeeded++
			if _, ok := recovered[a.InvoiceID]; a.AttemptNumber > 1 && !ok {
				recovered[a.InvoiceID] = a
			}
			continue
		}

		m.FailedAttempts++
		stats.Failed++
		if a.ErrorCode != "" {
			m.FailureCodes[a.ErrorCode]++
		}
		if a.AttemptNumber == 1 {
			started[a.InvoiceID] = true
		}
	}

	// runs that started before the window count neither as recovered nor
	// toward the recovered amount
	m.RunsStarted = len(started)
	amounts := make(map[string]decimal.Decimal)
	for invoiceID, a := range recovered {
		if started[invoiceID] {
			m.RunsRecovered++
			amounts[a.Currency] = amounts[a.Currency].Add(a.Amount)
		}
	}
	if m.RunsStarted > 0 {
		m.RecoveryRate = float64(m.RunsRecovered) / float64(m.RunsStarted)
	}

	for _, stats := range byNumber {
		if stats.Attempts > 0 {
			stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Attempts)
		}
		m.ByAttempt = append(m.ByAttempt, *stats)
	}
	sort.Slice(m.ByAttempt, func(i, j int) bool {
		return m.ByAttempt[i].AttemptNumber < m.ByAttempt[j].AttemptNumber
	})

	for currency, amount := range amounts {
		m.RecoveredAmounts = append(m.RecoveredAmounts, RecoveredAmount{Currency: currency, Amount: amount})
	}
	sort.Slice(m.RecoveredAmounts, func(i, j int) bool {
		return m.RecoveredAmounts[i].Currency < m.RecoveredAmounts[j].Currency
	})
	return m
}
