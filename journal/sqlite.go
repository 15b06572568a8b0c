package journal

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal persists records to a SQLite database file.
type SQLiteJournal struct {
	db *sql.DB
}

var _ Journal = (*SQLiteJournal)(nil)

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, side, instrument, time, price, quantity, cash_after, pnl_pct, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Side), t.Instrument, t.Time, t.Price,
		t.Quantity, t.CashAfter, t.PnlPct, t.Reason,
	)
	return err
}

func (j *SQLiteJournal) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (time, cash, holdings, equity)
		VALUES (?, ?, ?, ?)`,
		e.Time, e.Cash, e.Holdings, e.Equity,
	)
	return err
}

// ListTradesBetween returns trades with from <= time < to, oldest first.
func (j *SQLiteJournal) ListTradesBetween(from, to time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, side, instrument, time, price, quantity, cash_after, pnl_pct, reason
		FROM trades WHERE time >= ? AND time < ? ORDER BY time, trade_id`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			t    TradeRecord
			side string
		)
		if err := rows.Scan(&t.ID, &side, &t.Instrument, &t.Time, &t.Price,
			&t.Quantity, &t.CashAfter, &t.PnlPct, &t.Reason); err != nil {
			return nil, err
		}
		t.Side = Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTradesByInstrument returns all trades for one instrument, oldest first.
func (j *SQLiteJournal) ListTradesByInstrument(instrument string) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, side, instrument, time, price, quantity, cash_after, pnl_pct, reason
		FROM trades WHERE instrument = ? ORDER BY time, trade_id`,
		instrument,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			t    TradeRecord
			side string
		)
		if err := rows.Scan(&t.ID, &side, &t.Instrument, &t.Time, &t.Price,
			&t.Quantity, &t.CashAfter, &t.PnlPct, &t.Reason); err != nil {
			return nil, err
		}
		t.Side = Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
