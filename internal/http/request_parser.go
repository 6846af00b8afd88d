// Package http provides HTTP server and handler implementations.
//
// This file implements request decoding: JSON bodies, path ids and the
// amount type that accepts both numbers and formatted strings.
package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pairxpenses/internal/core"
	"pairxpenses/internal/services"
)

const maxBodyBytes = 64 << 10

// Amount decodes from a JSON integer (12000) or a string using thousands
// separators ("12.000"). Fractions and negative values are rejected.
type Amount int64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		m, err := core.ParseAmount(s)
		if err != nil {
			return fmt.Errorf("amount %q: %w", s, err)
		}
		*a = Amount(m.Units)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		if strings.HasPrefix(string(data), "-") {
			return fmt.Errorf("amount %s: %w", data, core.ErrNegativeAmount)
		}
		return fmt.Errorf("amount %s: %w", data, core.ErrInvalidAmount)
	}
	if n < 0 {
		return fmt.Errorf("amount %d: %w", n, core.ErrNegativeAmount)
	}
	*a = Amount(n)
	return nil
}

// decodeJSON reads exactly one JSON object into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) || errors.Is(err, core.ErrNegativeAmount) {
			return fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errMalformedBody)
		}
		return fmt.Errorf("%w: %w", errMalformedBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errMalformedBody)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON object", errMalformedBody)
	}
	return nil
}

// pathID parses the {id} path wildcard as a positive integer.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errBadPathParam, raw)
	}
	return id, nil
}

type (
	createEntryRequest struct {
		UserID int64  `json:"userId"`
		Name   string `json:"name"`
		Value  Amount `json:"value"`
	}

	updateEntryRequest struct {
		Name  string `json:"name"`
		Value Amount `json:"value"`
	}

	renameUserRequest struct {
		Name string `json:"name"`
	}

	// reportRequest leaves PercentageA nil to use the configured default.
	reportRequest struct {
		PercentageA *int `json:"percentageA"`
	}

	settlementRequest struct {
		PaymentsA   int64  `json:"paymentsA"`
		PaymentsB   int64  `json:"paymentsB"`
		DebtsA      int64  `json:"debtsA"`
		DebtsB      int64  `json:"debtsB"`
		PercentageA *int   `json:"percentageA"`
		NameA       string `json:"nameA"`
		NameB       string `json:"nameB"`
	}
)

func (r createEntryRequest) toInput(kind core.EntryKind) services.CreateEntryInput {
	return services.CreateEntryInput{Kind: kind, UserID: r.UserID, Name: r.Name, Value: int64(r.Value)}
}

func (r updateEntryRequest) toInput() services.UpdateEntryInput {
	return services.UpdateEntryInput{Name: r.Name, Value: int64(r.Value)}
}

// percentageOr returns p, or def when the field was omitted.
func percentageOr(p *int, def int) core.Percentage {
	if p == nil {
		return core.Percentage(def)
	}
	return core.Percentage(*p)
}
