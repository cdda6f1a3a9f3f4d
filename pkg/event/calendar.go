package event

import "time"

// Session is one trading session, open inclusive, close exclusive.
type Session struct {
	Open  time.Time
	Close time.Time
}

// Calendar yields trading sessions in chronological order. Implementations
// must be deterministic for the same input.
type Calendar interface {
	NextSession(after time.Time) (Session, bool)
}

// WeekdayCalendar opens one session per weekday at fixed wall-clock offsets.
type WeekdayCalendar struct {
	OpenOffset  time.Duration
	CloseOffset time.Duration
	Location    *time.Location
}

func NewWeekdayCalendar(openOffset, closeOffset time.Duration, loc *time.Location) *WeekdayCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &WeekdayCalendar{
		OpenOffset:  openOffset,
		CloseOffset: closeOffset,
		Location:    loc,
	}
}

func (c *WeekdayCalendar) NextSession(after time.Time) (Session, bool) {
	day := after.In(c.Location)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.Location)

	for i := 0; i < 8; i++ {
		if day.Weekday() != time.Saturday && day.Weekday() != time.Sunday {
			session := Session{
				Open:  day.Add(c.OpenOffset),
				Close: day.Add(c.CloseOffset),
			}
			if session.Open.After(after) {
				return session, true
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return Session{}, false
}

// AlwaysOpenCalendar never emits session boundaries, for 24/7 venues.
type AlwaysOpenCalendar struct{}

func (AlwaysOpenCalendar) NextSession(time.Time) (Session, bool) {
	return Session{}, false
}
