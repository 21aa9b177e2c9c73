package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/tripledger/internal/adapter/http/dto"
	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
)

func recordCmd(opts *options) *cobra.Command {
	var (
		req            dto.RecordTransactionRequest
		amount         string
		entities       []string
		previousState  string
		newState       string
		metadata       string
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a new transaction",
		Example: `  tripledger-cli record --type payment_received --amount 150.00 --currency USD \
    --description "Invoice 42 payment" --entity invoice:inv-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			req.Amount = &a

			if req.RelatedEntities, err = parseEntities(entities); err != nil {
				return err
			}
			if req.PreviousState, err = parseBlob("previous-state", previousState); err != nil {
				return err
			}
			if req.NewState, err = parseBlob("new-state", newState); err != nil {
				return err
			}
			if req.Metadata, err = parseBlob("metadata", metadata); err != nil {
				return err
			}

			var headers map[string]string
			if idempotencyKey != "" {
				headers = map[string]string{"Idempotency-Key": idempotencyKey}
			}

			var resp dto.TransactionResponse
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodPost, "/transactions", nil, headers, req, &resp); err != nil {
				return err
			}
			return render(cmd, opts, resp, func() { renderTransaction(cmd.OutOrStdout(), &resp) })
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ID, "id", "", "Transaction id (assigned by the ledger when empty)")
	f.StringVar(&req.Type, "type", "", "Transaction type")
	f.StringVar(&amount, "amount", "", "Signed amount")
	f.StringVar(&req.Currency, "currency", "", "ISO 4217 currency code")
	f.StringVar(&req.Description, "description", "", "Description")
	f.StringVar(&req.Notes, "notes", "", "Free-form notes")
	f.StringArrayVar(&entities, "entity", nil, "Related entity as kind:id (repeatable)")
	f.StringSliceVar(&req.RelatedTransactions, "related", nil, "Related transaction ids")
	f.StringVar(&previousState, "previous-state", "", `Snapshot before the change, e.g. {"schema":"invoice","version":1,"data":{}}`)
	f.StringVar(&newState, "new-state", "", "Snapshot after the change")
	f.StringVar(&metadata, "metadata", "", "Metadata envelope")
	f.StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key for safe retries")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("currency")
	_ = cmd.MarkFlagRequired("description")

	return cmd
}

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.TransactionResponse
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, "/transactions/"+url.PathEscape(args[0]), nil, nil, nil, &resp); err != nil {
				return err
			}
			return render(cmd, opts, resp, func() { renderTransaction(cmd.OutOrStdout(), &resp) })
		},
	}
}

func completeCmd(opts *options) *cobra.Command {
	return transitionCmd(opts, "complete", "Mark a pending transaction completed", false)
}

func failCmd(opts *options) *cobra.Command {
	return transitionCmd(opts, "fail", "Mark a pending transaction failed", true)
}

func reverseCmd(opts *options) *cobra.Command {
	return transitionCmd(opts, "reverse", "Reverse a completed transaction", true)
}

func transitionCmd(opts *options, action, short string, withReason bool) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := dto.TransitionRequest{Reason: reason}
			path := "/transactions/" + url.PathEscape(args[0]) + "/" + action

			var resp dto.TransactionResponse
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodPost, path, nil, nil, body, &resp); err != nil {
				return err
			}
			return render(cmd, opts, resp, func() { renderTransaction(cmd.OutOrStdout(), &resp) })
		},
	}

	if withReason {
		cmd.Flags().StringVar(&reason, "reason", "", "Reason for the change")
	}
	return cmd
}

func transitionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <id>",
		Short: "Show the status audit trail of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp []dto.TransitionResponse
			path := "/transactions/" + url.PathEscape(args[0]) + "/transitions"
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, path, nil, nil, nil, &resp); err != nil {
				return err
			}
			return render(cmd, opts, resp, func() { renderTransitions(cmd.OutOrStdout(), resp) })
		},
	}
}

func eventsCmd(opts *options) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show the events published for a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 || offset < 0 {
				return fmt.Errorf("--limit and --offset must not be negative")
			}
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}

			var resp dto.EventListResponse
			path := "/transactions/" + url.PathEscape(args[0]) + "/events"
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, path, query, nil, nil, &resp); err != nil {
				return err
			}
			return render(cmd, opts, resp, func() { renderEvents(cmd.OutOrStdout(), resp.Events) })
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Page size; the server default applies when 0")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of events to skip")
	return cmd
}

func historyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <kind> <id>",
		Short: "List the transactions referencing an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.TransactionListResponse
			path := "/entities/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1]) + "/transactions"
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, path, nil, nil, nil, &resp); err != nil {
				return err
			}
			return render(cmd, opts, resp, func() { renderTransactions(cmd.OutOrStdout(), resp.Transactions) })
		},
	}
}

func rangeCmd(opts *options) *cobra.Command {
	var p period

	cmd := &cobra.Command{
		Use:   "range",
		Short: "List transactions recorded in [start, end)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := p.query()
			if err != nil {
				return err
			}

			var resp dto.TransactionListResponse
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, "/transactions", query, nil, nil, &resp); err != nil {
				return err
			}
			return render(cmd, opts, resp, func() { renderTransactions(cmd.OutOrStdout(), resp.Transactions) })
		},
	}

	p.bind(cmd)
	return cmd
}

func summaryCmd(opts *options) *cobra.Command {
	var p period

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize transactions recorded in [start, end)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := p.query()
			if err != nil {
				return err
			}

			var resp domain.TransactionSummary
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, "/summary", query, nil, nil, &resp); err != nil {
				return err
			}
			return render(cmd, opts, resp, func() { renderSummary(cmd.OutOrStdout(), &resp) })
		},
	}

	p.bind(cmd)
	return cmd
}

func ledgerCmd(opts *options) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "consistency",
		Short: "Check ledger consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report usecase.ReconciliationReport
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, "/ledger/consistency", nil, nil, nil, &report); err != nil {
				return err
			}
			if err := render(cmd, opts, report, func() { renderReport(cmd.OutOrStdout(), &report) }); err != nil {
				return err
			}
			if !report.LedgerConsistent {
				return fmt.Errorf("consistency check FAILED: %d discrepancies", len(report.Discrepancies))
			}
			return nil
		},
	})

	return ledgerCmd
}

// period holds --start and --end as RFC3339 or YYYY-MM-DD.
type period struct {
	start string
	end   string
}

func (p *period) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.start, "start", "", "Inclusive start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&p.end, "end", "", "Exclusive end (RFC3339 or YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

func (p *period) query() (url.Values, error) {
	start, err := parseTime("start", p.start)
	if err != nil {
		return nil, err
	}
	end, err := parseTime("end", p.end)
	if err != nil {
		return nil, err
	}
	return url.Values{
		"start": {start.Format(time.RFC3339Nano)},
		"end":   {end.Format(time.RFC3339Nano)},
	}, nil
}

func parseTime(flag, value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want RFC3339 or YYYY-MM-DD", flag, value)
	}
	return t, nil
}

func parseEntities(values []string) ([]domain.EntityRef, error) {
	refs := make([]domain.EntityRef, 0, len(values))
	for _, v := range values {
		kind, id, ok := strings.Cut(v, ":")
		if !ok || kind == "" || id == "" {
			return nil, fmt.Errorf("invalid --entity %q: want kind:id", v)
		}
		refs = append(refs, domain.EntityRef{Kind: domain.EntityKind(kind), ID: id})
	}
	return refs, nil
}

func parseBlob(flag, value string) (*domain.Blob, error) {
	if value == "" {
		return nil, nil
	}
	var b domain.Blob
	if err := json.Unmarshal([]byte(value), &b); err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return &b, nil
}
