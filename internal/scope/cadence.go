package scope

import "time"

// Cadence describes the fixed meeting calendar: one meeting every Every days
// starting at Epoch, for Years years.
type Cadence struct {
	Epoch Date
	Every int
	Years int
}

// DefaultCadence is the bi-weekly Tuesday schedule.
var DefaultCadence = Cadence{
	Epoch: NewDate(2025, time.February, 18),
	Every: 14,
	Years: 2,
}

// ListAvailableDates returns every meeting date strictly before the end of the
// window, in ascending order.
func (c Cadence) ListAvailableDates() []Date {
	if c.Every <= 0 || c.Epoch.IsZero() {
		return nil
	}
	end := NewDate(c.Epoch.Year+c.Years, c.Epoch.Month, c.Epoch.Day)
	var dates []Date
	for current := c.Epoch; current.Before(end); current = current.AddDays(c.Every) {
		dates = append(dates, current)
	}
	return dates
}

// NearestDate picks the date with the smallest absolute distance in days from
// today. On a tie the date encountered first wins.
func NearestDate(dates []Date, today Date) (Date, bool) {
	if len(dates) == 0 {
		return Date{}, false
	}
	nearest := dates[0]
	best := abs(nearest.DaysUntil(today))
	for _, date := range dates[1:] {
		if distance := abs(date.DaysUntil(today)); distance < best {
			nearest, best = date, distance
		}
	}
	return nearest, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
