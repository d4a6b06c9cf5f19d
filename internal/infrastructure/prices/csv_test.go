package prices_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/lp_lending_risk/internal/domain"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/prices"
)

func TestParse_SortsAndIgnoresExtraColumns(t *testing.T) {
	data := `snapped_at,date,open_price,close_price,total_volume
x,2022-11-02,1570.5,1519.2,100
x,2022-11-01 00:00:00 UTC,1572.1,1580.0,200
x,2022-11-03T00:00:00Z,1519.2,1531.4,300
`
	series, err := prices.Parse(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, series, 3)

	assert.Equal(t, time.Date(2022, 11, 1, 0, 0, 0, 0, time.UTC), series[0].Date)
	assert.Equal(t, 1572.1, series[0].OpenPrice)
	assert.Equal(t, 1580.0, series[0].ClosePrice)
	assert.Equal(t, time.Date(2022, 11, 3, 0, 0, 0, 0, time.UTC), series[2].Date)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"Empty file", ""},
		{"Missing column", "date,open_price\n2022-11-01,1\n"},
		{"Header only", "date,open_price,close_price\n"},
		{"Bad date", "date,open_price,close_price\n01/11/2022,1,2\n"},
		{"Bad price", "date,open_price,close_price\n2022-11-01,abc,2\n"},
		{"Zero price", "date,open_price,close_price\n2022-11-01,0,2\n"},
		{"Negative price", "date,open_price,close_price\n2022-11-01,1,-2\n"},
		{"Ragged row", "date,open_price,close_price\n2022-11-01,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prices.Parse(context.Background(), strings.NewReader(tt.data))
			assert.ErrorIs(t, err, domain.ErrDataUnavailable)
		})
	}
}

func TestCSVSource_LoadPrices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eth-usd.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,open_price,close_price\n2021-05-19,3380.1,2460.7\n"), 0o644))

	series, err := prices.NewCSVSource(path).LoadPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.InDelta(t, -27.2, series[0].ChangePct(), 0.1)

	_, err = prices.NewCSVSource(filepath.Join(dir, "missing.csv")).LoadPrices(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	series := []domain.PricePoint{
		{Date: time.Date(2022, 11, 8, 0, 0, 0, 0, time.UTC), OpenPrice: 1567.31, ClosePrice: 1335.2},
		{Date: time.Date(2022, 11, 9, 0, 0, 0, 0, time.UTC), OpenPrice: 1335.2, ClosePrice: 1100.05},
	}

	var buf bytes.Buffer
	require.NoError(t, prices.WriteCSV(&buf, series))
	assert.True(t, strings.HasPrefix(buf.String(), "date,open_price,close_price\n2022-11-08,1567.31,1335.2\n"))

	got, err := prices.Parse(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, series, got)
}
