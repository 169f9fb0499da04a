package incidents

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/EmpoweredVote/odp-incidents/internal/carto"
)

// utcSuffixes are offsets CARTO appends to timestamps that are already local.
var utcSuffixes = []string{"+00:00", "+0000", "+00", "Z"}

// IsBlank reports whether a raw source value counts as missing.
func IsBlank(v string) bool {
	return v == "" || v == " "
}

// NormalizeInt returns 0 for blank values.
func NormalizeInt(v string) (int64, error) {
	if IsBlank(v) {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		// CARTO occasionally renders integral columns as "600.0".
		f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("not an integer: %q", v)
		}
		return int64(f), nil
	}
	return n, nil
}

// NormalizeFloat returns 0.0 for blank values.
func NormalizeFloat(v string) (float64, error) {
	if IsBlank(v) {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", v)
	}
	return f, nil
}

// NormalizeText returns "" for blank values and the raw value otherwise.
func NormalizeText(v string) string {
	if IsBlank(v) {
		return ""
	}
	return v
}

// NormalizeTimestamp returns "" for blank values and strips a redundant UTC
// offset. The wall-clock value is never shifted.
func NormalizeTimestamp(v string) string {
	if IsBlank(v) {
		return ""
	}
	v = strings.TrimSpace(v)
	for _, suffix := range utcSuffixes {
		if strings.HasSuffix(v, suffix) {
			return strings.TrimSpace(strings.TrimSuffix(v, suffix))
		}
	}
	return v
}

// Mapper resolves Fields against a result header once and maps rows by position.
type Mapper struct {
	index []int
}

// NewMapper fails with carto.ErrTransport if the header lacks a required column.
func NewMapper(header []string) (*Mapper, error) {
	res := carto.Result{Header: header}
	m := &Mapper{index: make([]int, len(Fields))}
	var missing []string
	for i, f := range Fields {
		m.index[i] = res.Index(f.Source)
		if m.index[i] < 0 {
			missing = append(missing, f.Source)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", carto.ErrTransport, strings.Join(missing, ", "))
	}
	return m, nil
}

// Map converts a raw row into a cleaned Incident.
func (m *Mapper) Map(row []string) (Incident, error) {
	get := func(i int) string {
		pos := m.index[i]
		if pos >= len(row) {
			return ""
		}
		return row[pos]
	}

	var in Incident
	var err error

	if in.ObjectID, err = NormalizeInt(get(0)); err != nil {
		return in, fmt.Errorf("%s: %w", ColObjectID, err)
	}
	in.District = NormalizeText(get(1))
	in.PSA = NormalizeText(get(2))
	in.OccurredAt = NormalizeTimestamp(get(3))
	if in.CaseNumber, err = NormalizeInt(get(4)); err != nil {
		return in, fmt.Errorf("%s: %w", ColCaseNumber, err)
	}
	in.Location = NormalizeText(get(5))
	if in.UCR, err = NormalizeInt(get(6)); err != nil {
		return in, fmt.Errorf("%s: %w", ColUCR, err)
	}
	in.CrimeType = NormalizeText(get(7))
	if in.Longitude, err = NormalizeFloat(get(8)); err != nil {
		return in, fmt.Errorf("%s: %w", ColX, err)
	}
	if in.Latitude, err = NormalizeFloat(get(9)); err != nil {
		return in, fmt.Errorf("%s: %w", ColY, err)
	}
	return in, nil
}
