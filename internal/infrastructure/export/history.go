package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vitos/lp_lending_risk/internal/domain"
)

// TimeseriesHistory reads regression training samples from the
// liquidation_timeseries.csv of a previous run.
type TimeseriesHistory struct {
	path string
}

func NewTimeseriesHistory(path string) *TimeseriesHistory {
	return &TimeseriesHistory{path: path}
}

// LatestTimeseriesHistory uses the timeseries of the most recent run under baseDir.
func LatestTimeseriesHistory(baseDir string) (*TimeseriesHistory, error) {
	runID, err := LatestRunID(baseDir)
	if err != nil {
		return nil, err
	}
	return NewTimeseriesHistory(filepath.Join(baseDir, runID, TimeseriesFile)), nil
}

func (h *TimeseriesHistory) HealthHistory(ctx context.Context) ([]domain.HealthObservation, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", domain.ErrDataUnavailable, err)
	}

	changeIdx, hfIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "price_change":
			changeIdx = i
		case "average_health_factor":
			hfIdx = i
		}
	}
	if changeIdx < 0 || hfIdx < 0 {
		return nil, fmt.Errorf("%w: %s lacks price_change/average_health_factor", domain.ErrDataUnavailable, h.path)
	}

	var obs []domain.HealthObservation
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
		}

		// ParseFloat accepts "inf"; such rows are dropped by the regression fit.
		change, err := strconv.ParseFloat(rec[changeIdx], 64)
		if err != nil {
			continue
		}
		hf, err := strconv.ParseFloat(rec[hfIdx], 64)
		if err != nil {
			continue
		}
		obs = append(obs, domain.HealthObservation{PriceChangePct: change, AvgHealthFactor: hf})
	}
	return obs, nil
}

// LatestRunID returns the lexically greatest run_* directory under baseDir.
func LatestRunID(baseDir string) (string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRunNotFound, err)
	}

	var runs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "run_") {
			runs = append(runs, e.Name())
		}
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("%w: no runs in %s", domain.ErrRunNotFound, baseDir)
	}
	sort.Strings(runs)
	return runs[len(runs)-1], nil
}
