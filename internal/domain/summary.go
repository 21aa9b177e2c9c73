package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// CashFlow holds money totals for one currency.
type CashFlow struct {
	TotalMoneyIn  decimal.Decimal `json:"total_money_in"`
	TotalMoneyOut decimal.Decimal `json:"total_money_out"`
	NetCashFlow   decimal.Decimal `json:"net_cash_flow"`
}

func (c *CashFlow) add(t *Transaction) {
	switch t.Type.Polarity() {
	case PolarityIn:
		c.TotalMoneyIn = c.TotalMoneyIn.Add(t.Amount)
	case PolarityOut:
		c.TotalMoneyOut = c.TotalMoneyOut.Add(t.Amount.Abs())
	}
	c.NetCashFlow = c.TotalMoneyIn.Sub(c.TotalMoneyOut)
}

// TransactionSummary aggregates records of one period.
type TransactionSummary struct {
	Start              time.Time                 `json:"start"`
	End                time.Time                 `json:"end"`
	TransactionsByType map[TransactionType]int   `json:"transactions_by_type"`
	ByCurrency         map[string]*CashFlow      `json:"by_currency"`
	ByStatus           map[TransactionStatus]int `json:"by_status"`
	Currencies         []string                  `json:"currencies"`
	CashFlow
	TotalTransactions int `json:"total_transactions"`
}

// NewTransactionSummary returns an empty summary with every type present.
func NewTransactionSummary(start, end time.Time) *TransactionSummary {
	byType := make(map[TransactionType]int, len(AllTransactionTypes))
	for _, tt := range AllTransactionTypes {
		byType[tt] = 0
	}

	return &TransactionSummary{
		Start:              start,
		End:                end,
		TransactionsByType: byType,
		ByCurrency:         make(map[string]*CashFlow),
		ByStatus:           make(map[TransactionStatus]int),
		Currencies:         []string{},
	}
}

// Add folds one record into the summary. Records must be added in
// (timestamp, id) order for the result to be reproducible.
func (s *TransactionSummary) Add(t *Transaction) {
	s.TotalTransactions++
	s.TransactionsByType[t.Type]++
	s.ByStatus[t.Status]++

	flow, ok := s.ByCurrency[t.Currency]
	if !ok {
		flow = &CashFlow{}
		s.ByCurrency[t.Currency] = flow
		s.Currencies = append(s.Currencies, t.Currency)
		slices.Sort(s.Currencies)
	}

	if !t.CountsTowardsCashFlow() {
		return
	}

	flow.add(t)
	s.CashFlow.add(t)
}

// MultiCurrency reports whether the top-level totals mix currencies.
func (s *TransactionSummary) MultiCurrency() bool {
	return len(s.Currencies) > 1
}
