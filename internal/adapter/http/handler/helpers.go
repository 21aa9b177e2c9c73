package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/tripledger/internal/adapter/http/dto"
	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
)

// ActorHeader names the caller performing a write.
const ActorHeader = "X-Actor-ID"

// maxBodyBytes bounds request bodies; snapshots are limited well below it.
const maxBodyBytes = 4 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError maps err and writes it with the rule and retry hint.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapDomainError(err)
	rule, _ := domain.ValidationRule(err)

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	writeJSON(w, status, dto.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   err.Error(),
		Rule:      rule,
		Retryable: domain.IsRetryable(err),
	})
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, usecase.ErrEventLogDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst as is.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parsePeriod reads the start and end query parameters as RFC3339 times.
func parsePeriod(r *http.Request) (time.Time, time.Time, error) {
	start, err := parseTimeQuery(r, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTimeQuery(r, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// parsePage reads the optional limit and offset query parameters.
func parsePage(r *http.Request) (int, int, error) {
	var page [2]int
	for i, key := range []string{"limit", "offset"} {
		val := r.URL.Query().Get(key)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("query parameter %q must be a non-negative integer", key)
		}
		page[i] = n
	}
	return page[0], page[1], nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return time.Time{}, fmt.Errorf("query parameter %q is required", key)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("query parameter %q: %w", key, err)
	}
	return t, nil
}
