package frame

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var naTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"NULL": {}, "null": {}, "None": {}, "<NA>": {}, "#N/A": {},
}

// ReadCSV parses a comma-separated table with a header row, inferring one dtype per column:
// int64, then float64 (also when an integer column has missing cells), then bool, else object.
func ReadCSV(r io.Reader) (*DataFrame, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty CSV input")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	raw := make([][]string, len(header))
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		for j, cell := range record {
			raw[j] = append(raw[j], cell)
		}
	}

	cols := make([]*Series, len(header))
	for j, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", j)
		}
		cols[j] = inferSeries(name, raw[j])
	}
	return New(cols...)
}

// WriteCSV writes the table with a header row. Missing values are written as empty cells.
func WriteCSV(w io.Writer, df *DataFrame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(df.Columns()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	record := make([]string, df.NCols())
	for i := 0; i < df.NRows(); i++ {
		for j, s := range df.columns {
			record[j] = s.Text(i)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func inferSeries(name string, cells []string) *Series {
	n := len(cells)
	if n == 0 {
		return NewString(name, []string{}, []bool{})
	}

	missing := make([]bool, n)
	present := 0
	for i, c := range cells {
		if _, ok := naTokens[strings.TrimSpace(c)]; ok {
			missing[i] = true
			continue
		}
		present++
	}
	if present == 0 {
		values := make([]float64, n)
		for i := range values {
			values[i] = math.NaN()
		}
		return NewFloat(name, values)
	}

	if values, ok := parseAll(cells, missing, func(c string) (float64, error) {
		v, err := strconv.ParseInt(c, 10, 64)
		return float64(v), err
	}); ok {
		if present == n {
			return &Series{name: name, kind: Int, nums: values}
		}
		return NewFloat(name, values)
	}

	if values, ok := parseAll(cells, missing, func(c string) (float64, error) {
		return strconv.ParseFloat(c, 64)
	}); ok {
		return NewFloat(name, values)
	}

	if values, ok := parseAll(cells, missing, parseBool); ok {
		return &Series{name: name, kind: Bool, nums: values}
	}

	strs := make([]string, n)
	for i, c := range cells {
		if !missing[i] {
			strs[i] = c
		}
	}
	return NewString(name, strs, missing)
}

func parseAll(cells []string, missing []bool, parse func(string) (float64, error)) ([]float64, bool) {
	values := make([]float64, len(cells))
	for i, c := range cells {
		if missing[i] {
			values[i] = math.NaN()
			continue
		}
		v, err := parse(strings.TrimSpace(c))
		if err != nil {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func parseBool(c string) (float64, error) {
	switch c {
	case "True", "true", "TRUE":
		return 1, nil
	case "False", "false", "FALSE":
		return 0, nil
	}
	return 0, fmt.Errorf("not a bool: %q", c)
}
