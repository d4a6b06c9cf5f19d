package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/lp_lending_risk/internal/domain"
)

// SQLiteStore persists simulation runs. It is a ResultSink for the simulator
// and a RunRepository for the web API. Non-finite floats (the +Inf no-debt
// health factor) are stored as NULL and read back as +Inf.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// A single writer avoids "database is locked" under concurrent sinks.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			policy TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			total_dates INTEGER NOT NULL DEFAULT 0,
			total_positions INTEGER NOT NULL DEFAULT 0,
			total_liquidations INTEGER NOT NULL DEFAULT 0,
			unique_liquidated INTEGER NOT NULL DEFAULT 0,
			avg_health_factor REAL,
			avg_effective_ltv REAL NOT NULL DEFAULT 0,
			reductions_applied INTEGER NOT NULL DEFAULT 0,
			days_with_liquidations INTEGER NOT NULL DEFAULT 0,
			degenerate_shocks INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS day_records (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			open_price REAL NOT NULL,
			close_price REAL NOT NULL,
			price_change_pct REAL NOT NULL,
			liquidations INTEGER NOT NULL,
			unique_liquidated INTEGER NOT NULL,
			avg_health_factor REAL,
			avg_effective_ltv REAL NOT NULL,
			reductions_applied INTEGER NOT NULL,
			avg_worst_projected_hf REAL,
			repaid_total REAL NOT NULL,
			collateral_taken_total REAL NOT NULL,
			PRIMARY KEY (run_id, date)
		);`,
		`CREATE TABLE IF NOT EXISTS position_lines (
			run_id TEXT NOT NULL,
			date TEXT NOT NULL,
			position_id TEXT NOT NULL,
			seed_price REAL NOT NULL,
			value_at_seed REAL NOT NULL,
			provisional_loan REAL NOT NULL,
			loan_amount REAL NOT NULL,
			close_price REAL NOT NULL,
			value_at_close REAL NOT NULL,
			hold_value REAL NOT NULL,
			impermanent_loss REAL NOT NULL,
			worst_projected_hf REAL,
			threshold REAL NOT NULL,
			health_factor REAL,
			should_liquidate BOOLEAN NOT NULL,
			repay_amount REAL NOT NULL,
			collateral_to_take REAL NOT NULL,
			PRIMARY KEY (run_id, date, position_id),
			FOREIGN KEY (run_id, date) REFERENCES day_records(run_id, date) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// ResultSink Implementation

func (s *SQLiteStore) BeginRun(ctx context.Context, summary domain.RunSummary) error {
	query := `INSERT INTO runs (run_id, policy, mode, started_at, total_dates, total_positions)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		summary.RunID, summary.Policy, summary.Mode, summary.StartedAt, summary.TotalDates, summary.TotalPositions)
	return err
}

func (s *SQLiteStore) WriteDay(ctx context.Context, runID string, day domain.DayRecord, lines []domain.PositionLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	date := day.Date.Format(time.DateOnly)
	query := `INSERT INTO day_records (run_id, date, open_price, close_price, price_change_pct, liquidations, unique_liquidated,
			  avg_health_factor, avg_effective_ltv, reductions_applied, avg_worst_projected_hf, repaid_total, collateral_taken_total)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query,
		runID, date, day.OpenPrice, day.ClosePrice, day.PriceChangePct, day.LiquidationCount, day.UniqueLiquidatedToday,
		nullable(day.AvgHealthFactor), day.AvgEffectiveLTV, day.ReductionsApplied, nullable(day.AvgWorstProjectedHF),
		day.RepaidTotal, day.CollateralTakenTotal); err != nil {
		return fmt.Errorf("insert day %s: %w", date, err)
	}

	if len(lines) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO position_lines (run_id, date, position_id, seed_price, value_at_seed,
			provisional_loan, loan_amount, close_price, value_at_close, hold_value, impermanent_loss, worst_projected_hf,
			threshold, health_factor, should_liquidate, repay_amount, collateral_to_take)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, l := range lines {
			if _, err := stmt.ExecContext(ctx,
				runID, date, l.PositionID, l.SeedPrice, l.PositionValueAtSeed, l.ProvisionalLoan, l.LoanAmount,
				l.ClosePrice, l.PositionValueAtClose, l.HoldValue, l.ImpermanentLoss, nullable(l.WorstProjectedHF),
				l.Threshold, nullable(l.HealthFactor), l.ShouldLiquidate, l.RepayAmount, l.CollateralToTake); err != nil {
				return fmt.Errorf("insert line %s: %w", l.PositionID, err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) EndRun(ctx context.Context, summary domain.RunSummary) error {
	query := `UPDATE runs SET finished_at = ?, total_dates = ?, total_positions = ?, total_liquidations = ?,
			  unique_liquidated = ?, avg_health_factor = ?, avg_effective_ltv = ?, reductions_applied = ?,
			  days_with_liquidations = ?, degenerate_shocks = ?
			  WHERE run_id = ?`
	res, err := s.db.ExecContext(ctx, query,
		summary.FinishedAt, summary.TotalDates, summary.TotalPositions, summary.TotalLiquidationsAll,
		summary.UniquePositionsEverLiquidated, nullable(summary.AvgHealthFactorAll), summary.AvgEffectiveLTVAll,
		summary.TotalReductionsApplied, summary.DaysWithLiquidations, summary.DegenerateShocks, summary.RunID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, summary.RunID)
	}
	return nil
}

// RunRepository Implementation

const runColumns = `run_id, policy, mode, started_at, finished_at, total_dates, total_positions, total_liquidations,
	unique_liquidated, avg_health_factor, avg_effective_ltv, reductions_applied, days_with_liquidations, degenerate_shocks`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunSummary, error) {
	var r domain.RunSummary
	var finished sql.NullTime
	var avgHF sql.NullFloat64
	if err := row.Scan(&r.RunID, &r.Policy, &r.Mode, &r.StartedAt, &finished, &r.TotalDates, &r.TotalPositions,
		&r.TotalLiquidationsAll, &r.UniquePositionsEverLiquidated, &avgHF, &r.AvgEffectiveLTVAll,
		&r.TotalReductionsApplied, &r.DaysWithLiquidations, &r.DegenerateShocks); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	r.AvgHealthFactorAll = orInf(avgHF)
	return &r, nil
}

// ListRuns returns the most recently started runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return r, err
}

func (s *SQLiteStore) ListDays(ctx context.Context, runID string) ([]domain.DayRecord, error) {
	query := `SELECT date, open_price, close_price, price_change_pct, liquidations, unique_liquidated, avg_health_factor,
			  avg_effective_ltv, reductions_applied, avg_worst_projected_hf, repaid_total, collateral_taken_total
			  FROM day_records WHERE run_id = ? ORDER BY date`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []domain.DayRecord
	for rows.Next() {
		var d domain.DayRecord
		var date string
		var avgHF, worst sql.NullFloat64
		if err := rows.Scan(&date, &d.OpenPrice, &d.ClosePrice, &d.PriceChangePct, &d.LiquidationCount,
			&d.UniqueLiquidatedToday, &avgHF, &d.AvgEffectiveLTV, &d.ReductionsApplied, &worst,
			&d.RepaidTotal, &d.CollateralTakenTotal); err != nil {
			return nil, err
		}
		if d.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, err
		}
		d.AvgHealthFactor = orInf(avgHF)
		d.AvgWorstProjectedHF = orInf(worst)
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *SQLiteStore) ListPositionLines(ctx context.Context, runID string, date string) ([]domain.PositionLine, error) {
	query := `SELECT position_id, seed_price, value_at_seed, provisional_loan, loan_amount, close_price, value_at_close,
			  hold_value, impermanent_loss, worst_projected_hf, threshold, health_factor, should_liquidate,
			  repay_amount, collateral_to_take
			  FROM position_lines WHERE run_id = ? AND date = ? ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, runID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.PositionLine
	for rows.Next() {
		var l domain.PositionLine
		var worst, hf sql.NullFloat64
		if err := rows.Scan(&l.PositionID, &l.SeedPrice, &l.PositionValueAtSeed, &l.ProvisionalLoan, &l.LoanAmount,
			&l.ClosePrice, &l.PositionValueAtClose, &l.HoldValue, &l.ImpermanentLoss, &worst, &l.Threshold, &hf,
			&l.ShouldLiquidate, &l.RepayAmount, &l.CollateralToTake); err != nil {
			return nil, err
		}
		l.ImpermanentLossPct = l.ImpermanentLoss * 100
		l.WorstProjectedHF = orInf(worst)
		l.HealthFactor = orInf(hf)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// RunHistory feeds the regression fit from a stored run's daily records.
// An empty run id selects the latest finished run.
type RunHistory struct {
	store *SQLiteStore
	runID string
}

func (s *SQLiteStore) History(runID string) *RunHistory {
	return &RunHistory{store: s, runID: runID}
}

func (h *RunHistory) HealthHistory(ctx context.Context) ([]domain.HealthObservation, error) {
	runID := h.runID
	if runID == "" {
		row := h.store.db.QueryRowContext(ctx,
			`SELECT run_id FROM runs WHERE finished_at IS NOT NULL ORDER BY started_at DESC, run_id DESC LIMIT 1`)
		if err := row.Scan(&runID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: no finished runs", domain.ErrRunNotFound)
			}
			return nil, err
		}
	}

	rows, err := h.store.db.QueryContext(ctx,
		`SELECT price_change_pct, avg_health_factor FROM day_records
		 WHERE run_id = ? AND avg_health_factor IS NOT NULL ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []domain.HealthObservation
	for rows.Next() {
		var o domain.HealthObservation
		if err := rows.Scan(&o.PriceChangePct, &o.AvgHealthFactor); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

func nullable(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

func orInf(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}
