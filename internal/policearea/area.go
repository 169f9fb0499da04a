// Package policearea models Philadelphia police administrative areas: police
// districts and the police service areas (PSAs) inside them.
package policearea

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidArea is returned for area codes that cannot identify an area.
var ErrInvalidArea = errors.New("invalid police area")

// Column names an area filters on in the incidents table.
const (
	DistrictColumn = "district"
	PSAColumn      = "psa"
)

// Area is any police area that incidents can be filtered by.
type Area interface {
	Column() string
	ID() string
}

// PSA is a police service area. The first character of its code names the
// district it belongs to.
type PSA struct {
	code string
}

// NewPSA fails for an empty code.
func NewPSA(code string) (PSA, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return PSA{}, fmt.Errorf("%w: PSA number not long enough", ErrInvalidArea)
	}
	return PSA{code: code}, nil
}

func (p PSA) Column() string { return PSAColumn }
func (p PSA) ID() string     { return p.code }

// District returns the district digit encoded in the PSA code, or "" for the
// zero PSA.
func (p PSA) District() string {
	if p.code == "" {
		return ""
	}
	return p.code[:1]
}

func (p PSA) String() string { return "PSA " + p.code }

// District is a police district and the PSAs it contains.
type District struct {
	number string
	psas   []PSA
}

// NewDistrict builds a district from PSA values.
func NewDistrict(number string, psas ...PSA) (District, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return District{}, fmt.Errorf("%w: empty district number", ErrInvalidArea)
	}
	return District{number: number, psas: append([]PSA(nil), psas...)}, nil
}

// DistrictFromCodes builds a district from raw PSA codes.
func DistrictFromCodes(number string, codes ...string) (District, error) {
	psas := make([]PSA, 0, len(codes))
	for _, c := range codes {
		p, err := NewPSA(c)
		if err != nil {
			return District{}, fmt.Errorf("district %s: %w", number, err)
		}
		psas = append(psas, p)
	}
	return NewDistrict(number, psas...)
}

func (d District) Column() string { return DistrictColumn }
func (d District) ID() string     { return d.number }

// PSAs returns a copy of the district's service areas.
func (d District) PSAs() []PSA { return append([]PSA(nil), d.psas...) }

func (d District) String() string { return "District " + d.number }
