package incidents

import (
	"context"
	"fmt"
	"time"
)

// Area narrows a count to one police area. policearea.PSA and
// policearea.District satisfy it.
type Area interface {
	Column() string
	ID() string
}

// countable are the columns an Area may filter on.
var countable = map[string]bool{ColDistrict: true, ColPSA: true}

// CountOccurred counts incidents with from <= date_time_occur < to. A nil
// area counts the whole city.
func (s *GormStore) CountOccurred(ctx context.Context, from, to time.Time, area Area) (int64, error) {
	q := s.db.WithContext(ctx).
		Table(s.table.String()). // gorm quotes schema and table separately
		Where(ColOccurredAt+" >= ? AND "+ColOccurredAt+" < ?",
			from.Format(TimestampLayout), to.Format(TimestampLayout))
	if area != nil {
		col := area.Column()
		if !countable[col] {
			return 0, fmt.Errorf("count %s: cannot filter on column %q", s.table, col)
		}
		q = q.Where(col+" = ?", area.ID())
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}
