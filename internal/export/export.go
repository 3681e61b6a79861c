// Package export renders sessions and monthly statistics as CSV, XLSX and PDF.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"genwatch/internal/ledger"
)

const timeLayout = "2006-01-02 15:04:05"

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts csv, xlsx or pdf in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

var sessionHeader = []string{"id", "start_time", "end_time", "duration_hours", "fuel_liters", "cost", "notes"}

// sessionRow renders s with times in loc. Open sessions leave end, duration,
// fuel and cost empty.
func sessionRow(s *ledger.Session, loc *time.Location, price float64) []string {
	row := []string{
		strconv.FormatInt(s.ID, 10),
		s.StartTime.In(loc).Format(timeLayout),
		"", "", "", "",
		s.Notes,
	}
	if s.EndTime != nil {
		row[2] = s.EndTime.In(loc).Format(timeLayout)
		row[3] = strconv.FormatFloat(s.Hours(), 'f', 3, 64)
		row[4] = strconv.FormatFloat(s.Fuel(), 'f', 3, 64)
		row[5] = strconv.FormatFloat(s.Fuel()*price, 'f', 2, 64)
	}
	return row
}

// SessionsCSV writes sessions as CSV with a header row.
func SessionsCSV(w io.Writer, sessions []*ledger.Session, loc *time.Location, price float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sessionHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, s := range sessions {
		if err := cw.Write(sessionRow(s, loc, price)); err != nil {
			return fmt.Errorf("failed to write session %d: %w", s.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
