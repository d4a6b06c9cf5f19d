package prices

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/lp_lending_risk/internal/domain"
)

var dateLayouts = []string{
	time.DateOnly,
	time.DateTime,
	"2006-01-02 15:04:05 MST",
	time.RFC3339,
}

// CSVSource reads a daily price series from a CSV file with at least the
// columns date, open_price and close_price. Other columns are ignored.
type CSVSource struct {
	path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) LoadPrices(ctx context.Context) ([]domain.PricePoint, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}
	defer f.Close()

	return Parse(ctx, f)
}

// Parse reads a price series and returns it sorted by date.
func Parse(ctx context.Context, r io.Reader) ([]domain.PricePoint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", domain.ErrDataUnavailable, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var idx [3]int
	for i, name := range []string{"date", "open_price", "close_price"} {
		c, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", domain.ErrDataUnavailable, name)
		}
		idx[i] = c
	}

	var series []domain.PricePoint
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrDataUnavailable, line, err)
		}

		date, err := parseDate(rec[idx[0]])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrDataUnavailable, line, err)
		}
		open, err := parsePrice(rec[idx[1]])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: open_price: %v", domain.ErrDataUnavailable, line, err)
		}
		closePrice, err := parsePrice(rec[idx[2]])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: close_price: %v", domain.ErrDataUnavailable, line, err)
		}

		series = append(series, domain.PricePoint{Date: date, OpenPrice: open, ClosePrice: closePrice})
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no price rows", domain.ErrDataUnavailable)
	}

	sort.SliceStable(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	return series, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if !(v > 0) || v > 1e300 {
		return 0, fmt.Errorf("price must be positive and finite, got %q", s)
	}
	return v, nil
}

// WriteCSV writes series in the format Parse reads.
func WriteCSV(w io.Writer, series []domain.PricePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "open_price", "close_price"}); err != nil {
		return err
	}
	for _, p := range series {
		if err := cw.Write([]string{
			p.Date.Format(time.DateOnly),
			strconv.FormatFloat(p.OpenPrice, 'f', -1, 64),
			strconv.FormatFloat(p.ClosePrice, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
