package frame

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the storage dtype of a series
type Kind string

const (
	Int    Kind = "int64"
	Float  Kind = "float64"
	Bool   Kind = "bool"
	String Kind = "object"
)

// Series is a named, typed column.
// Int, Float and Bool values live in nums with NaN marking a missing value;
// String values live in strs with na marking a missing value.
type Series struct {
	name string
	kind Kind
	nums []float64
	strs []string
	na   []bool
}

// NewFloat creates a float64 series; NaN marks a missing value
func NewFloat(name string, values []float64) *Series {
	return &Series{name: name, kind: Float, nums: values}
}

// NewInt creates an int64 series
func NewInt(name string, values []int64) *Series {
	nums := make([]float64, len(values))
	for i, v := range values {
		nums[i] = float64(v)
	}
	return &Series{name: name, kind: Int, nums: nums}
}

// NewBool creates a bool series
func NewBool(name string, values []bool) *Series {
	nums := make([]float64, len(values))
	for i, v := range values {
		if v {
			nums[i] = 1
		}
	}
	return &Series{name: name, kind: Bool, nums: nums}
}

// NewString creates an object series. na may be nil when no value is missing.
func NewString(name string, values []string, na []bool) *Series {
	if na == nil {
		na = make([]bool, len(values))
	}
	return &Series{name: name, kind: String, strs: values, na: na}
}

// NewNumeric creates an Int series when every value is whole and present, Float otherwise
func NewNumeric(name string, values []float64) *Series {
	kind := Int
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			kind = Float
			break
		}
	}
	return &Series{name: name, kind: kind, nums: values}
}

func (s *Series) Name() string { return s.name }
func (s *Series) Kind() Kind   { return s.kind }

// Len returns the number of rows
func (s *Series) Len() int {
	if s.kind == String {
		return len(s.strs)
	}
	return len(s.nums)
}

// IsNumeric reports whether the series holds int64 or float64 values
func (s *Series) IsNumeric() bool {
	return s.kind == Int || s.kind == Float
}

// IsNA reports whether row i is missing
func (s *Series) IsNA(i int) bool {
	if s.kind == String {
		return s.na[i]
	}
	return math.IsNaN(s.nums[i])
}

// HasNA reports whether any row is missing
func (s *Series) HasNA() bool {
	for i := 0; i < s.Len(); i++ {
		if s.IsNA(i) {
			return true
		}
	}
	return false
}

// CountNA returns the number of missing rows
func (s *Series) CountNA() int {
	n := 0
	for i := 0; i < s.Len(); i++ {
		if s.IsNA(i) {
			n++
		}
	}
	return n
}

// Floats returns the numeric backing slice. Callers must not modify it.
func (s *Series) Floats() []float64 {
	return s.nums
}

// Float returns row i as a float; strings parse or yield NaN
func (s *Series) Float(i int) float64 {
	if s.kind == String {
		if s.na[i] {
			return math.NaN()
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s.strs[i]), 64)
		if err != nil {
			return math.NaN()
		}
		return v
	}
	return s.nums[i]
}

// Text returns the text form of row i; missing rows yield ""
func (s *Series) Text(i int) string {
	if s.IsNA(i) {
		return ""
	}
	switch s.kind {
	case String:
		return s.strs[i]
	case Bool:
		if s.nums[i] != 0 {
			return "True"
		}
		return "False"
	case Int:
		return strconv.FormatInt(int64(s.nums[i]), 10)
	default:
		return formatFloat(s.nums[i])
	}
}

// Value returns row i as a JSON-friendly value; missing rows yield nil
func (s *Series) Value(i int) any {
	if s.IsNA(i) {
		return nil
	}
	switch s.kind {
	case String:
		return s.strs[i]
	case Bool:
		return s.nums[i] != 0
	case Int:
		return int64(s.nums[i])
	default:
		v := s.nums[i]
		if math.IsInf(v, 0) {
			return formatFloat(v)
		}
		return v
	}
}

// Rename returns a copy of the series under a new name
func (s *Series) Rename(name string) *Series {
	c := s.Clone()
	c.name = name
	return c
}

// Clone deep-copies the series
func (s *Series) Clone() *Series {
	c := &Series{name: s.name, kind: s.kind}
	if s.nums != nil {
		c.nums = append([]float64(nil), s.nums...)
	}
	if s.strs != nil {
		c.strs = append([]string(nil), s.strs...)
		c.na = append([]bool(nil), s.na...)
	}
	return c
}

// Take returns a new series holding the given rows in order
func (s *Series) Take(rows []int) *Series {
	c := &Series{name: s.name, kind: s.kind}
	if s.kind == String {
		c.strs = make([]string, len(rows))
		c.na = make([]bool, len(rows))
		for j, i := range rows {
			c.strs[j] = s.strs[i]
			c.na[j] = s.na[i]
		}
		return c
	}
	c.nums = make([]float64, len(rows))
	for j, i := range rows {
		c.nums[j] = s.nums[i]
	}
	return c
}

// ToCategorical converts the series to object dtype; missing rows stay missing
func (s *Series) ToCategorical() *Series {
	if s.kind == String {
		return s.Clone()
	}
	n := s.Len()
	strs := make([]string, n)
	na := make([]bool, n)
	for i := 0; i < n; i++ {
		if s.IsNA(i) {
			na[i] = true
			continue
		}
		strs[i] = s.Text(i)
	}
	return NewString(s.name, strs, na)
}

// ToNumeric converts the series to a numeric dtype.
// Bool becomes 0/1; strings must parse as numbers.
func (s *Series) ToNumeric() (*Series, error) {
	switch s.kind {
	case Int, Float:
		return s.Clone(), nil
	case Bool:
		return NewNumeric(s.name, append([]float64(nil), s.nums...)), nil
	}
	values := make([]float64, len(s.strs))
	for i, raw := range s.strs {
		if s.na[i] {
			values[i] = math.NaN()
			continue
		}
		v, err := parseNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("column %q: unable to parse %q as a number at row %d", s.name, raw, i)
		}
		values[i] = v
	}
	return NewNumeric(s.name, values), nil
}

// WithFloats returns a numeric series of the same name with new values
func (s *Series) WithFloats(values []float64) *Series {
	if s.kind == Int {
		return NewNumeric(s.name, values)
	}
	return NewFloat(s.name, values)
}

// WithStrings returns an object series of the same name with new values
func (s *Series) WithStrings(values []string, na []bool) *Series {
	return NewString(s.name, values, na)
}

// Texts returns the text form of every row and the missing mask
func (s *Series) Texts() ([]string, []bool) {
	n := s.Len()
	strs := make([]string, n)
	na := make([]bool, n)
	for i := 0; i < n; i++ {
		na[i] = s.IsNA(i)
		strs[i] = s.Text(i)
	}
	return strs, na
}

// NUnique counts distinct non-missing values
func (s *Series) NUnique() int {
	seen := make(map[string]struct{})
	for i := 0; i < s.Len(); i++ {
		if s.IsNA(i) {
			continue
		}
		seen[s.Text(i)] = struct{}{}
	}
	return len(seen)
}

// ValueCount is one entry of a value-count table
type ValueCount struct {
	Value string
	Count int
}

// ValueCounts returns distinct non-missing values ordered by descending count,
// ties broken by first appearance.
func (s *Series) ValueCounts() []ValueCount {
	index := make(map[string]int)
	var counts []ValueCount
	for i := 0; i < s.Len(); i++ {
		if s.IsNA(i) {
			continue
		}
		v := s.Text(i)
		if j, ok := index[v]; ok {
			counts[j].Count++
			continue
		}
		index[v] = len(counts)
		counts = append(counts, ValueCount{Value: v, Count: 1})
	}
	sort.SliceStable(counts, func(a, b int) bool {
		return counts[a].Count > counts[b].Count
	})
	return counts
}

// Unique returns distinct non-missing values in order of first appearance
func (s *Series) Unique() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i < s.Len(); i++ {
		if s.IsNA(i) {
			continue
		}
		v := s.Text(i)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// CanHold reports whether a value can be cast to the series dtype
func (s *Series) CanHold(value any) bool {
	switch s.kind {
	case String:
		switch value.(type) {
		case string, float64, int, int64, bool:
			return true
		}
		return false
	case Bool:
		_, ok := value.(bool)
		return ok
	case Int:
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == math.Trunc(v)
		}
		return false
	default:
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	}
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	out := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(out, ".eEn") {
		out += ".0"
	}
	return out
}

func parseNumber(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}
