package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/httputil"
)

// RESTClient fetches exchange rates from the fallback HTTP rates API.
// The API takes comma-separated symbol lists and answers with a nested
// {FROM: {TO: rate}} object.
type RESTClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTClient builds a fallback rates client.
func NewRESTClient(baseURL, apiKey string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httputil.NewClient(timeout),
	}
}

// Rate fetches a single pair's rate.
func (c *RESTClient) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	table, err := c.Rates(ctx, []string{from}, []string{to})
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := table[strings.ToUpper(from)][strings.ToUpper(to)]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates: api response missing pair %s/%s", from, to)
	}
	return rate, nil
}

// Rates fetches a multi-symbol rate table in one request.
func (c *RESTClient) Rates(ctx context.Context, fsyms, tsyms []string) (map[string]map[string]decimal.Decimal, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("rates: api base url not configured")
	}

	query := url.Values{}
	query.Set("fsyms", strings.ToUpper(strings.Join(fsyms, ",")))
	query.Set("tsyms", strings.ToUpper(strings.Join(tsyms, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("rates: build api request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Apikey "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rates: api request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("rates: read api response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rates: api returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	return parseRateTable(body)
}

// parseRateTable decodes and validates the nested rate object. Values arrive
// as json.Number so they convert to decimals without a float64 round trip.
func parseRateTable(body []byte) (map[string]map[string]decimal.Decimal, error) {
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.UseNumber()

	var raw map[string]map[string]json.Number
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("rates: decode api response: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("rates: api returned an empty rate table")
	}

	table := make(map[string]map[string]decimal.Decimal, len(raw))
	for from, pairs := range raw {
		if len(pairs) == 0 {
			return nil, fmt.Errorf("rates: api returned no quotes for %s", from)
		}
		table[from] = make(map[string]decimal.Decimal, len(pairs))
		for to, num := range pairs {
			rate, err := decimal.NewFromString(num.String())
			if err != nil {
				return nil, fmt.Errorf("rates: invalid rate %q for %s/%s: %w", num.String(), from, to, err)
			}
			if !rate.IsPositive() {
				return nil, fmt.Errorf("rates: non-positive rate %s for %s/%s", rate, from, to)
			}
			table[from][to] = rate
		}
	}
	return table, nil
}

func truncateBody(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
