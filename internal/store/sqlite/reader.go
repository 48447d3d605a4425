package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"signal-engine/internal/model"
)

// Recent returns up to limit alerts, newest first. An empty symbol reads
// alerts of every symbol.
func (j *Journal) Recent(ctx context.Context, symbol string, limit int) ([]model.AlertEvent, error) {
	var rows []alertRow
	var err error
	if symbol == "" {
		err = j.db.SelectContext(ctx, &rows, `
			SELECT * FROM alerts
			ORDER BY ts DESC, rowid DESC
			LIMIT ?`, limit)
	} else {
		err = j.db.SelectContext(ctx, &rows, `
			SELECT * FROM alerts
			WHERE symbol = ?
			ORDER BY ts DESC, rowid DESC
			LIMIT ?`, symbol, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query alerts: %w", err)
	}

	out := make([]model.AlertEvent, 0, len(rows))
	for _, r := range rows {
		var ev model.AlertEvent
		if err := json.Unmarshal([]byte(r.Data), &ev); err != nil {
			return nil, fmt.Errorf("decode alert %s: %w", r.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// CountAlerts returns the number of journaled alerts for symbol, or for all
// symbols when symbol is empty.
func (j *Journal) CountAlerts(ctx context.Context, symbol string) (int, error) {
	var n int
	var err error
	if symbol == "" {
		err = j.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM alerts`)
	} else {
		err = j.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM alerts WHERE symbol = ?`, symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite count alerts: %w", err)
	}
	return n, nil
}

// LatestSignals returns the stored latest publication of every symbol,
// ordered by symbol.
func (j *Journal) LatestSignals(ctx context.Context) ([]model.Published, error) {
	var rows []latestRow
	if err := j.db.SelectContext(ctx, &rows, `SELECT * FROM latest_signals ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("sqlite query latest_signals: %w", err)
	}
	out := make([]model.Published, 0, len(rows))
	for _, r := range rows {
		var p model.Published
		if err := json.Unmarshal([]byte(r.Data), &p); err != nil {
			return nil, fmt.Errorf("decode latest %s: %w", r.Symbol, err)
		}
		out = append(out, p)
	}
	return out, nil
}
