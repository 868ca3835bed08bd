package status

import (
	"sort"
	"time"
)

// DatetimeLayout is the human-readable layout used in persisted records and messages.
const DatetimeLayout = "2006-01-02 15:04:05"

// Record is the last known state of one endpoint.
type Record struct {
	Up           bool
	CheckedAt    time.Time
	LastSeen     *time.Time // nil if the endpoint was never seen up
	LastNotified *time.Time
}

// Snapshot maps endpoint URL to its record. A nil Snapshot means no prior run.
type Snapshot map[string]Record

// Keys returns the endpoint identifiers in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy. Cloning a nil Snapshot yields nil.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, r := range s {
		out[k] = r.clone()
	}
	return out
}

func (r Record) clone() Record {
	cp := r
	if r.LastSeen != nil {
		t := *r.LastSeen
		cp.LastSeen = &t
	}
	if r.LastNotified != nil {
		t := *r.LastNotified
		cp.LastNotified = &t
	}
	return cp
}

// State renders a liveness flag the way notifications spell it.
func State(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

// FormatTime renders t in loc using DatetimeLayout. A nil loc means time.Local.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DatetimeLayout)
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
