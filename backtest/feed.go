package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
)

// LoadCSV reads candles from a CSV file with the header
// time,open,high,low,close,volume. Timestamps are RFC 3339.
func LoadCSV(path string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open candle file: %w", err)
	}
	defer f.Close()

	return ReadCandles(f)
}

// ReadCandles parses the CSV candle format from any reader.
func ReadCandles(r io.Reader) ([]market.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("backtest: read candle header: %w", err)
	}
	if header[0] != "time" {
		return nil, fmt.Errorf("backtest: unexpected candle header %v", header)
	}

	var out []market.Candle
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: read candle row: %w", err)
		}

		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("backtest: line %d: parse time %q: %w", line, rec[0], err)
		}

		vals := make([]float64, 5)
		for i, s := range rec[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("backtest: line %d: parse %q: %w", line, s, err)
			}
			vals[i] = v
		}

		out = append(out, market.Candle{
			Time:   ts,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return out, nil
}

// WriteCandles writes candles in the same CSV format, for capturing
// fetched history to disk.
func WriteCandles(w io.Writer, candles []market.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return fmt.Errorf("backtest: write candle header: %w", err)
	}
	for _, c := range candles {
		rec := []string{
			c.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("backtest: write candle row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
