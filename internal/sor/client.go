// Package sor is the client for the prison system of record. Calls are
// retried with backoff and guarded by a circuit breaker; client errors are
// never retried.
package sor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/prisoner"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/config"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/resilience"
)

const breakerName = "prison-api"

// statusError is a non-2xx response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("prison api returned %d: %s", e.status, e.body)
}

// Client calls the prison API.
type Client struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewClient builds a client from cfg. m may be nil.
func NewClient(cfg config.PrisonAPIConfig, m *metrics.Metrics) *Client {
	return newClient(cfg, &http.Client{Timeout: cfg.Timeout}, m)
}

func newClient(cfg config.PrisonAPIConfig, hc *http.Client, m *metrics.Metrics) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		http:    hc,
		logger:  slog.Default().With("component", "prison-api"),
	}
	c.retry = resilience.RetryConfig{
		MaxAttempts:  cfg.RetryAttempts,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Retryable: func(err error) bool {
			return !errors.Is(err, resilience.ErrCircuitOpen)
		},
	}
	c.breaker = resilience.NewCircuitBreaker(breakerName, resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		IsFailure:        isServerFailure,
		OnStateChange: func(name string, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// FetchFullRecord returns the complete record for prisonerNumber, or an
// error wrapping ErrPrisonerNotFound when the prison API has no such person.
func (c *Client) FetchFullRecord(ctx context.Context, prisonerNumber string) (*prisoner.Prisoner, error) {
	var p prisoner.Prisoner
	path := "/api/prisoner/" + url.PathEscape(prisonerNumber) + "/full"
	if err := c.getJSON(ctx, "fetch-record", path, &p); err != nil {
		return nil, err
	}
	p.Canonicalize()
	return &p, nil
}

// ListAllExternalNumbers returns up to limit prisoner numbers starting at
// offset. A short page means the end has been reached.
func (c *Client) ListAllExternalNumbers(ctx context.Context, offset, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var numbers []string
	if err := c.getJSON(ctx, "list-numbers", "/api/prisoners/prisoner-numbers?"+q.Encode(), &numbers); err != nil {
		return nil, err
	}
	return numbers, nil
}

// FetchNumberForBooking resolves a booking id to its prisoner number.
func (c *Client) FetchNumberForBooking(ctx context.Context, bookingID int64) (string, error) {
	var booking struct {
		OffenderNo string `json:"offenderNo"`
	}
	path := "/api/bookings/" + strconv.FormatInt(bookingID, 10) + "?basicInfo=true"
	if err := c.getJSON(ctx, "fetch-booking", path, &booking); err != nil {
		return "", err
	}
	if booking.OffenderNo == "" {
		return "", fmt.Errorf("booking %d has no prisoner number: %w", bookingID, apperrors.ErrPrisonerNotFound)
	}
	return booking.OffenderNo, nil
}

// Ping reports whether the breaker currently allows calls.
func (c *Client) Ping(context.Context) error {
	if c.breaker.GetState() == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	err := resilience.Retry(ctx, "prison-api "+op, c.retry, func() error {
		return c.breaker.Execute(func() error {
			return c.do(ctx, path, out)
		})
	})
	if err != nil {
		c.logger.Debug("prison api call failed", "op", op, "path", path, "error", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling prison api: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resilience.Permanent(fmt.Errorf("%s: %w", path, apperrors.ErrPrisonerNotFound))
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: string(body)}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.Permanent(&statusError{status: resp.StatusCode, body: string(body)})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resilience.Permanent(fmt.Errorf("decoding %s: %w", path, err))
	}
	return nil
}

// isServerFailure counts transport errors and 5xx responses towards
// tripping the breaker. Not-found and other client errors do not.
func isServerFailure(err error) bool {
	if errors.Is(err, apperrors.ErrPrisonerNotFound) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return true
}
