package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	money "github.com/Rhymond/go-money"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/tripledger/internal/adapter/http/dto"
	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
)

// render prints v as JSON with -o json and calls table otherwise.
func render(cmd *cobra.Command, opts *options, v any, table func()) error {
	switch opts.output {
	case "json":
		return printJSON(cmd.OutOrStdout(), v)
	case "table", "":
		table()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", opts.output)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatMoney renders amount with the currency symbol and minor units.
// Currencies go-money does not know fall back to "<amount> <code>".
func formatMoney(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.String() + " " + code
	}
	factor := decimal.New(1, int32(cur.Fraction))
	return money.New(amount.Mul(factor).Round(0).IntPart(), cur.Code).Display()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

func renderTransaction(w io.Writer, t *dto.TransactionResponse) {
	table := newTable(w, "Field", "Value")
	table.Append([]string{"ID", t.ID})
	table.Append([]string{"Type", t.Type})
	table.Append([]string{"Status", t.Status})
	table.Append([]string{"Amount", formatMoney(t.Amount, t.Currency)})
	table.Append([]string{"Description", t.Description})
	table.Append([]string{"Timestamp", t.Timestamp.Format(time.RFC3339Nano)})
	if t.StatusChangedAt != nil {
		table.Append([]string{"Status changed", t.StatusChangedAt.Format(time.RFC3339Nano)})
	}
	if t.PerformedBy != "" {
		table.Append([]string{"Performed by", t.PerformedBy})
	}
	if t.ReversalOf != "" {
		table.Append([]string{"Reversal of", t.ReversalOf})
	}
	if len(t.RelatedEntities) > 0 {
		table.Append([]string{"Entities", formatEntities(t.RelatedEntities)})
	}
	if len(t.RelatedTransactions) > 0 {
		table.Append([]string{"Related", strings.Join(t.RelatedTransactions, ", ")})
	}
	if t.Notes != "" {
		table.Append([]string{"Notes", t.Notes})
	}
	table.Render()
}

func renderTransactions(w io.Writer, ts []*dto.TransactionResponse) {
	table := newTable(w, "ID", "Timestamp", "Type", "Status", "Amount", "Description")
	for _, t := range ts {
		table.Append([]string{
			t.ID,
			t.Timestamp.Format(time.RFC3339),
			t.Type,
			t.Status,
			formatMoney(t.Amount, t.Currency),
			truncate(t.Description, 40),
		})
	}
	table.SetFooter([]string{"", "", "", "", "Count", strconv.Itoa(len(ts))})
	table.Render()
}

func renderTransitions(w io.Writer, trs []dto.TransitionResponse) {
	table := newTable(w, "At", "From", "To", "Performed by", "Reason", "Reversal")
	for _, tr := range trs {
		table.Append([]string{tr.At.Format(time.RFC3339Nano), tr.From, tr.To, tr.PerformedBy, tr.Reason, tr.ReversalID})
	}
	table.Render()
}

func renderEvents(w io.Writer, events []*dto.EventResponse) {
	table := newTable(w, "Created", "ID", "Event", "Published")
	for _, e := range events {
		published := "no"
		if e.Published {
			published = "yes"
		}
		table.Append([]string{e.CreatedAt.Format(time.RFC3339Nano), e.ID, e.EventType, published})
	}
	table.Render()
}

func renderSummary(w io.Writer, s *domain.TransactionSummary) {
	fmt.Fprintf(w, "Period: %s - %s\n", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Transactions: %d\n\n", s.TotalTransactions)

	flows := newTable(w, "Currency", "Money in", "Money out", "Net")
	for _, code := range s.Currencies {
		cf := s.ByCurrency[code]
		if cf == nil {
			continue
		}
		flows.Append([]string{
			code,
			formatMoney(cf.TotalMoneyIn, code),
			formatMoney(cf.TotalMoneyOut, code),
			formatMoney(cf.NetCashFlow, code),
		})
	}
	flows.Render()
	fmt.Fprintln(w)

	types := newTable(w, "Type", "Count")
	for _, t := range domain.AllTransactionTypes {
		types.Append([]string{string(t), strconv.Itoa(s.TransactionsByType[t])})
	}
	types.Render()
	fmt.Fprintln(w)

	statuses := make([]string, 0, len(s.ByStatus))
	for status := range s.ByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	byStatus := newTable(w, "Status", "Count")
	for _, status := range statuses {
		byStatus.Append([]string{status, strconv.Itoa(s.ByStatus[domain.TransactionStatus(status)])})
	}
	byStatus.Render()
}

func renderReport(w io.Writer, r *usecase.ReconciliationReport) {
	if r.LedgerConsistent {
		fmt.Fprintln(w, "Consistency check PASSED")
	} else {
		fmt.Fprintln(w, "Consistency check FAILED")
	}
	fmt.Fprintf(w, "Checked at: %s\n", r.CheckedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Records: %d, reversed: %d, reversals: %d\n", r.TotalRecords, r.ReversedRecords, r.ReversalRecords)

	if len(r.Discrepancies) == 0 {
		return
	}
	table := newTable(w, "Transaction", "Kind", "Detail")
	for _, d := range r.Discrepancies {
		table.Append([]string{d.TransactionID, d.Kind, d.Detail})
	}
	table.Render()
}

func formatEntities(refs []domain.EntityRef) string {
	parts := make([]string, len(refs))
	for i, ref := range refs {
		parts[i] = string(ref.Kind) + ":" + ref.ID
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
