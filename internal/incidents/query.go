package incidents

import (
	"strings"
	"time"
)

// TimestampLayout is the textual form used for stored and filtered timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	sourceOccurred = "dispatch_date_time"
	sourceGeometry = "the_geom"
)

// SourceQuery builds the CARTO SQL for the dataset. A nil since fetches
// everything; otherwise only incidents strictly after since are requested.
// since is rendered from a time.Time, so no caller text reaches the query.
func SourceQuery(dataset string, since *time.Time) string {
	cols := make([]string, 0, len(Fields))
	for _, f := range Fields {
		switch f.Source {
		case "lng":
			cols = append(cols, "ST_X("+sourceGeometry+") AS lng")
		case "lat":
			cols = append(cols, "ST_Y("+sourceGeometry+") AS lat")
		default:
			cols = append(cols, f.Source)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(dataset)
	if since != nil {
		b.WriteString(" WHERE " + sourceOccurred + " > '")
		b.WriteString(since.Format(TimestampLayout))
		b.WriteString("'")
	}
	b.WriteString(" ORDER BY " + sourceOccurred)
	return b.String()
}
