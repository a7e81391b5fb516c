package data

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
)

// Import formats accepted at the system boundary
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Decode reads raw candle records in the given format
func Decode(r io.Reader, format string) ([]map[string]any, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return DecodeJSON(r)
	case FormatCSV:
		return DecodeCSV(r)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
}

// DecodeJSON reads a JSON array of candle objects, keeping numbers exact
func DecodeJSON(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, &types.ValidationError{Reason: "invalid data format: " + err.Error()}
	}
	return records, nil
}

// DecodeCSV reads a CSV document with a header row. Empty cells are left out
// of the record so they surface as missing fields during validation.
func DecodeCSV(r io.Reader) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &types.ValidationError{Reason: "invalid data format or empty dataset"}
		}
		return nil, &types.ValidationError{Reason: "invalid data format: " + err.Error()}
	}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var records []map[string]any
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &types.ValidationError{Row: len(records) + 1, Reason: "malformed csv row: " + err.Error()}
		}

		rec := make(map[string]any, len(header))
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if header[i] == "timestamp" {
				if _, err := strconv.ParseFloat(cell, 64); err == nil {
					rec[header[i]] = json.Number(cell)
					continue
				}
			}
			rec[header[i]] = cell
		}
		records = append(records, rec)
	}

	return records, nil
}

// ImportCandles decodes and validates a raw import payload in one step
func ImportCandles(payload []byte, format string) ([]types.Candle, error) {
	records, err := Decode(bytes.NewReader(payload), format)
	if err != nil {
		return nil, err
	}
	return ValidateMarketData(records)
}
