package types

import "time"

// SeriesPoint is one value of a variable at a UTC epoch timestamp. Points are
// forwarded in the order the backend sent them.
type SeriesPoint struct {
	Timestamp int64  `json:"timestamp"`
	Value     string `json:"value"`
}

// Time returns the timestamp as a time.Time in UTC.
func (p SeriesPoint) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// Window is a date range submitted to the backend. From and To are dates at
// midnight in the source zone.
type Window struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Final bool      `json:"final"`
}

// DateLayout is the format of the from/to dates sent to the backend.
const DateLayout = "2006-01-02"

// ReadRequest groups the variables of one read cycle by command service.
type ReadRequest map[CommandService][]string
