package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
)

// Notification subjects, one per kind of pass outcome.
const (
	SubjectStarted    = "monitoring started"
	SubjectMembership = "monitored servers changed"
	SubjectStatus     = "status changed"
	SubjectReminder   = "reminder about down server"
)

// Result is the outcome of reconciling one pass.
type Result struct {
	Snapshot status.Snapshot
	Messages []string
	Subject  string // empty when Messages is empty
}

// Engine derives the next snapshot and the notification text for a pass.
// It performs no I/O and never reads the wall clock.
type Engine struct {
	// ReminderPeriod is the minimum silence before a still-down endpoint is
	// reported again. Zero or negative disables reminders.
	ReminderPeriod time.Duration
	// Location is used to render datetimes in messages. Nil means time.Local.
	Location *time.Location
}

type event int

const (
	eventNone event = iota
	eventTransition
	eventReminder
)

// Reconcile compares the freshly probed states in current against previous.
// previous is nil on the very first run.
func (e Engine) Reconcile(current map[string]bool, previous status.Snapshot, now time.Time) Result {
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if previous == nil {
		return e.firstRun(ids, current, now)
	}

	res := Result{Snapshot: make(status.Snapshot, len(current))}

	changed := symmetricDifference(previous, current)
	for _, id := range changed {
		if prev, ok := previous[id]; ok {
			res.Messages = append(res.Messages, fmt.Sprintf(
				"Server %s removed from monitoring (%s) - last update %s",
				id, status.State(prev.Up), e.format(prev.CheckedAt)))
			continue
		}
		up := current[id]
		res.Snapshot[id] = newRecord(up, now)
		res.Messages = append(res.Messages, fmt.Sprintf(
			"Server %s added for monitoring (%s) - last update %s",
			id, status.State(up), e.format(now)))
	}

	var transitions, reminders int
	for _, id := range ids {
		prev, ok := previous[id]
		if !ok {
			continue
		}
		rec, msg, ev := e.advance(id, current[id], prev, now)
		res.Snapshot[id] = rec
		switch ev {
		case eventTransition:
			transitions++
		case eventReminder:
			reminders++
		}
		if msg != "" {
			res.Messages = append(res.Messages, msg)
		}
	}

	switch {
	case len(changed) > 0:
		res.Subject = SubjectMembership
	case transitions > 0:
		res.Subject = SubjectStatus
	case reminders > 0:
		res.Subject = SubjectReminder
	}
	return res
}

func (e Engine) firstRun(ids []string, current map[string]bool, now time.Time) Result {
	res := Result{
		Snapshot: make(status.Snapshot, len(current)),
		Subject:  SubjectStarted,
	}

	var b strings.Builder
	b.WriteString("Monitoring started for:")
	for _, id := range ids {
		up := current[id]
		res.Snapshot[id] = newRecord(up, now)
		fmt.Fprintf(&b, "\n- %s (%s)", id, status.State(up))
	}
	res.Messages = []string{b.String()}
	return res
}

// advance applies the steady-state rules to an endpoint present in both passes.
func (e Engine) advance(id string, up bool, prev status.Record, now time.Time) (status.Record, string, event) {
	rec := status.Record{Up: up, CheckedAt: now}

	switch {
	case up != prev.Up:
		rec.LastNotified = status.TimePtr(now)
		if up {
			rec.LastSeen = status.TimePtr(now)
		} else {
			rec.LastSeen = copyTime(prev.LastSeen)
		}
		return rec, fmt.Sprintf("%s: %s: %s -> %s (%s)",
			id, SubjectStatus, status.State(prev.Up), status.State(up), e.format(now)), eventTransition

	case !up:
		rec.LastSeen = copyTime(prev.LastSeen)
		rec.LastNotified = copyTime(prev.LastNotified)
		if rec.LastNotified == nil {
			rec.LastNotified = status.TimePtr(now)
		}
		if e.ReminderPeriod > 0 && rec.CheckedAt.Sub(*rec.LastNotified) > e.ReminderPeriod {
			rec.LastNotified = status.TimePtr(rec.CheckedAt)
			return rec, fmt.Sprintf("%s: the server is down for more than %d minutes (%s)",
				id, int64(e.ReminderPeriod/time.Minute), e.format(now)), eventReminder
		}
		return rec, "", eventNone

	default:
		rec.LastSeen = status.TimePtr(now)
		rec.LastNotified = copyTime(prev.LastNotified)
		return rec, "", eventNone
	}
}

func (e Engine) format(t time.Time) string {
	return status.FormatTime(t, e.Location)
}

func newRecord(up bool, now time.Time) status.Record {
	rec := status.Record{
		Up:           up,
		CheckedAt:    now,
		LastNotified: status.TimePtr(now),
	}
	if up {
		rec.LastSeen = status.TimePtr(now)
	}
	return rec
}

// symmetricDifference returns, sorted, the endpoints present in exactly one of the two sets.
func symmetricDifference(previous status.Snapshot, current map[string]bool) []string {
	var out []string
	for id := range previous {
		if _, ok := current[id]; !ok {
			out = append(out, id)
		}
	}
	for id := range current {
		if _, ok := previous[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
