package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

// FrankfurterClient fetches daily ECB reference rates for fiat pairs.
type FrankfurterClient struct {
	baseURL string
	http    httpGetter
}

// NewFrankfurterClient creates a new Frankfurter API client.
func NewFrankfurterClient(baseURL string, delay time.Duration, maxRetries int) *FrankfurterClient {
	return &FrankfurterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPGetter("Frankfurter", delay, maxRetries),
	}
}

// DailyRate returns the base/quote reference rate of the day of at. The API
// answers with the last business day on or before it.
func (c *FrankfurterClient) DailyRate(ctx context.Context, base, quote string, at time.Time) (domain.ExchangeRate, bool, error) {
	day := at.UTC().Format(time.DateOnly)
	url := fmt.Sprintf("%s/%s?from=%s&to=%s", c.baseURL, day, base, quote)

	body, err := c.http.get(ctx, url)
	if errors.Is(err, errNotFound) {
		return domain.ExchangeRate{}, false, nil
	}
	if err != nil {
		return domain.ExchangeRate{}, false, err
	}

	// Parse: {"amount":1.0,"base":"EUR","date":"2018-05-09","rates":{"USD":1.1873}}
	var raw struct {
		Base  string                 `json:"base"`
		Date  string                 `json:"date"`
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.ExchangeRate{}, false, fmt.Errorf("parsing Frankfurter response: %w", err)
	}

	value, ok := raw.Rates[quote]
	if !ok {
		return domain.ExchangeRate{}, false, nil
	}
	rate, err := decimal.NewFromString(value.String())
	if err != nil {
		return domain.ExchangeRate{}, false, fmt.Errorf("parsing Frankfurter rate %q: %w", value, err)
	}
	ts, err := time.Parse(time.DateOnly, raw.Date)
	if err != nil {
		ts = at
	}

	return domain.ExchangeRate{
		Base:      base,
		Quote:     quote,
		Rate:      rate.Round(domain.StorageScale),
		Timestamp: ts,
		Source:    domain.FrankfurterSource,
	}, true, nil
}
