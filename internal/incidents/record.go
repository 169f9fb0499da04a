// Package incidents syncs the OpenDataPhilly crime incident dataset into a
// PostGIS table.
//
// A run inspects the destination, downloads either the full dataset or only
// the incidents newer than the stored high-water mark, upserts each row by
// case number, and recomputes the projected geometry for the rows it touched.
// The whole run is one transaction.
package incidents

// Incident is one cleaned source row, ready to be written.
type Incident struct {
	ObjectID   int64
	District   string
	PSA        string
	OccurredAt string // "2006-01-02 15:04:05", or "" when the source was blank
	CaseNumber int64
	Location   string
	UCR        int64
	CrimeType  string
	Longitude  float64
	Latitude   float64
}

// Kind is the destination type family of a field; it drives blank handling.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindText
	KindTimestamp
)

// Field maps one source column to one destination column.
type Field struct {
	Source string // column name in the CARTO dataset (or alias for computed values)
	Column string // destination column
	Kind   Kind
	SQL    string // destination DDL type
}

// Destination column names.
const (
	ColObjectID   = "objectid"
	ColDistrict   = "district"
	ColPSA        = "psa"
	ColOccurredAt = "date_time_occur"
	ColCaseNumber = "dc_number"
	ColLocation   = "location"
	ColUCR        = "ucr"
	ColCrimeType  = "crime_type"
	ColX          = "x"
	ColY          = "y"
)

// Fields is the fixed source-to-destination dictionary, in destination column order.
var Fields = []Field{
	{Source: "objectid", Column: ColObjectID, Kind: KindInteger, SQL: "BIGINT"},
	{Source: "dc_dist", Column: ColDistrict, Kind: KindText, SQL: "TEXT"},
	{Source: "psa", Column: ColPSA, Kind: KindText, SQL: "TEXT"},
	{Source: "dispatch_date_time", Column: ColOccurredAt, Kind: KindTimestamp, SQL: "TIMESTAMP"},
	{Source: "dc_key", Column: ColCaseNumber, Kind: KindInteger, SQL: "BIGINT"},
	{Source: "location_block", Column: ColLocation, Kind: KindText, SQL: "TEXT"},
	{Source: "ucr_general", Column: ColUCR, Kind: KindInteger, SQL: "INT"},
	{Source: "text_general_code", Column: ColCrimeType, Kind: KindText, SQL: "TEXT"},
	{Source: "lng", Column: ColX, Kind: KindFloat, SQL: "DOUBLE PRECISION"},
	{Source: "lat", Column: ColY, Kind: KindFloat, SQL: "DOUBLE PRECISION"},
}

// Columns returns the destination column names in order.
func Columns() []string {
	out := make([]string, len(Fields))
	for i, f := range Fields {
		out[i] = f.Column
	}
	return out
}

// Values returns the incident's values in Columns order.
func (in Incident) Values() []interface{} {
	return []interface{}{
		in.ObjectID,
		in.District,
		in.PSA,
		in.OccurredAt,
		in.CaseNumber,
		in.Location,
		in.UCR,
		in.CrimeType,
		in.Longitude,
		in.Latitude,
	}
}
