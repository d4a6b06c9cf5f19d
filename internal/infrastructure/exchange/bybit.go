package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/vitos/lp_lending_risk/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"

	// maxKlines is the page size limit of the v5 kline endpoint.
	maxKlines = 1000
)

// BybitKlineSource downloads daily klines from the public Bybit v5 market API
// and serves them as a price series. Only public endpoints are used, so no
// API key is needed.
type BybitKlineSource struct {
	baseURL  string
	category string
	symbol   string
	start    time.Time
	end      time.Time
	client   *http.Client
}

func NewBybitKlineSource(baseURL, category, symbol string, start, end time.Time) *BybitKlineSource {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	return &BybitKlineSource{
		baseURL:  baseURL,
		category: category,
		symbol:   symbol,
		start:    start,
		end:      end,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// --- REST API ---

func (b *BybitKlineSource) sendRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

// getKlines fetches one page of daily klines ending at end, newest first.
func (b *BybitKlineSource) getKlines(ctx context.Context, start, end time.Time) ([]domain.PricePoint, error) {
	query := url.Values{}
	query.Set("category", b.category)
	query.Set("symbol", b.symbol)
	query.Set("interval", "D")
	query.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	query.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	query.Set("limit", strconv.Itoa(maxKlines))

	resp, err := b.sendRequest(ctx, "/v5/market/kline", query)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline error: %d %s", result.RetCode, result.RetMsg)
	}

	var points []domain.PricePoint
	for _, raw := range result.Result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 5 {
			continue
		}

		ts, err := strconv.ParseInt(raw[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad kline time %q: %w", raw[0], err)
		}
		open, err := strconv.ParseFloat(raw[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad open price %q: %w", raw[1], err)
		}
		closePrice, err := strconv.ParseFloat(raw[4], 64)
		if err != nil {
			return nil, fmt.Errorf("bad close price %q: %w", raw[4], err)
		}

		points = append(points, domain.PricePoint{
			Date:       time.UnixMilli(ts).UTC(),
			OpenPrice:  open,
			ClosePrice: closePrice,
		})
	}
	return points, nil
}

// LoadPrices pages backwards from end to start and returns the days in
// chronological order.
func (b *BybitKlineSource) LoadPrices(ctx context.Context) ([]domain.PricePoint, error) {
	byDate := make(map[int64]domain.PricePoint)
	end := b.end
	for !end.Before(b.start) {
		page, err := b.getKlines(ctx, b.start, end)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
		}
		if len(page) == 0 {
			break
		}

		oldest := page[0].Date
		for _, p := range page {
			if p.Date.Before(oldest) {
				oldest = p.Date
			}
			if p.Date.Before(b.start) || p.Date.After(b.end) {
				continue
			}
			byDate[p.Date.UnixMilli()] = p
		}
		next := oldest.Add(-time.Millisecond)
		if !next.Before(end) {
			break
		}
		end = next
	}

	if len(byDate) == 0 {
		return nil, fmt.Errorf("%w: no klines for %s between %s and %s", domain.ErrDataUnavailable,
			b.symbol, b.start.Format(time.DateOnly), b.end.Format(time.DateOnly))
	}

	series := make([]domain.PricePoint, 0, len(byDate))
	for _, p := range byDate {
		series = append(series, p)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	return series, nil
}
