package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// RequiredColumns are the price columns every input must carry.
var RequiredColumns = []string{"Open", "High", "Low", "Close", "Volume"}

var timeColumns = []string{"timestamp", "datetime", "date", "time"}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ToSeries converts column-oriented input into a bar series. A missing
// price column fails with ErrCodeMissingColumns listing every missing name.
func ToSeries(symbol string, timeframe types.Timeframe, frame types.Frame) (types.Series, error) {
	lookup := make(map[string][]float64, len(frame.Columns))
	for name, values := range frame.Columns {
		lookup[strings.ToLower(strings.TrimSpace(name))] = values
	}

	var missing []string
	cols := make([][]float64, len(RequiredColumns))
	for i, name := range RequiredColumns {
		values, ok := lookup[strings.ToLower(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols[i] = values
	}
	if len(missing) > 0 {
		return types.Series{}, errors.Newf(errors.ErrCodeMissingColumns,
			"missing required columns: %s", strings.Join(missing, ", "))
	}

	n := len(frame.Index)
	for i, name := range RequiredColumns {
		if len(cols[i]) != n {
			return types.Series{}, errors.Newf(errors.ErrCodeInvalidSeries,
				"column %s has %d values, index has %d", name, len(cols[i]), n)
		}
	}

	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{
			Timestamp: frame.Index[i],
			Open:      cols[0][i],
			High:      cols[1][i],
			Low:       cols[2][i],
			Close:     cols[3][i],
			Volume:    cols[4][i],
		}
	}
	return types.Series{Symbol: symbol, Timeframe: timeframe, Bars: bars}, nil
}

// ReadCSV parses a CSV with a header row into a frame. The time column is
// the first header named timestamp, datetime, date or time. Non-numeric
// cells in other columns are rejected.
func ReadCSV(r io.Reader) (types.Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return types.Frame{}, errors.Wrap(errors.ErrCodeInvalidSeries, "failed to read CSV header", err)
	}

	timeIdx := -1
	for _, candidate := range timeColumns {
		for i, name := range header {
			if strings.EqualFold(strings.TrimSpace(name), candidate) {
				timeIdx = i
				break
			}
		}
		if timeIdx >= 0 {
			break
		}
	}
	if timeIdx < 0 {
		return types.Frame{}, errors.New(errors.ErrCodeInvalidSeries, "CSV has no timestamp, datetime, date or time column")
	}

	frame := types.Frame{Columns: make(map[string][]float64, len(header)-1)}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return types.Frame{}, errors.Wrapf(errors.ErrCodeInvalidSeries, err, "failed to read CSV line %d", line)
		}

		ts, err := ParseTime(record[timeIdx])
		if err != nil {
			return types.Frame{}, errors.Wrapf(errors.ErrCodeInvalidSeries, err, "line %d", line)
		}
		frame.Index = append(frame.Index, ts)

		for i, name := range header {
			if i == timeIdx {
				continue
			}
			cell := strings.TrimSpace(record[i])
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return types.Frame{}, errors.Wrapf(errors.ErrCodeInvalidSeries, err, "line %d column %s", line, name)
			}
			frame.Columns[name] = append(frame.Columns[name], v)
		}
	}
	return frame, nil
}

// ParseTime accepts RFC3339, common date/time layouts and unix seconds or
// milliseconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
