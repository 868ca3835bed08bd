package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
)

// ErrMalformedSnapshot marks persisted state that cannot be trusted.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// requiredFields must be present in every persisted record.
var requiredFields = []string{"up", "check_timestamp"}

// record is the persisted form of status.Record. Fields are declared in
// alphabetical order so the encoded object has stable, sorted keys.
type record struct {
	CheckDatetime     string   `json:"check_datetime"`
	CheckTimestamp    float64  `json:"check_timestamp"`
	LastNotified      *float64 `json:"last_notified"`
	LastSeenDatetime  *string  `json:"last_seen_datetime"`
	LastSeenTimestamp *float64 `json:"last_seen_timestamp"`
	Up                bool     `json:"up"`
}

// EncodeSnapshot renders snap as indented JSON with endpoints in sorted order.
func EncodeSnapshot(snap status.Snapshot, loc *time.Location) ([]byte, error) {
	out := make(map[string]record, len(snap))
	for id, r := range snap {
		out[id] = toRecord(r, loc)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses persisted state. Content that does not describe a
// complete snapshot yields an error wrapping ErrMalformedSnapshot.
func DecodeSnapshot(data []byte) (status.Snapshot, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedSnapshot)
	}

	snap := make(status.Snapshot, len(raw))
	for id, fields := range raw {
		for _, f := range requiredFields {
			if v, ok := fields[f]; !ok || string(v) == "null" {
				return nil, fmt.Errorf("%w: %s: missing %q", ErrMalformedSnapshot, id, f)
			}
		}

		var rec record
		if err := unmarshalFields(fields, &rec); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSnapshot, id, err)
		}
		snap[id] = fromRecord(rec)
	}
	return snap, nil
}

func unmarshalFields(fields map[string]json.RawMessage, rec *record) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, rec)
}

func toRecord(r status.Record, loc *time.Location) record {
	rec := record{
		Up:             r.Up,
		CheckTimestamp: toEpoch(r.CheckedAt),
		CheckDatetime:  status.FormatTime(r.CheckedAt, loc),
	}
	if r.LastSeen != nil {
		ts := toEpoch(*r.LastSeen)
		dt := status.FormatTime(*r.LastSeen, loc)
		rec.LastSeenTimestamp = &ts
		rec.LastSeenDatetime = &dt
	}
	if r.LastNotified != nil {
		ts := toEpoch(*r.LastNotified)
		rec.LastNotified = &ts
	}
	return rec
}

func fromRecord(rec record) status.Record {
	r := status.Record{
		Up:        rec.Up,
		CheckedAt: fromEpoch(rec.CheckTimestamp),
	}
	if rec.LastSeenTimestamp != nil {
		r.LastSeen = status.TimePtr(fromEpoch(*rec.LastSeenTimestamp))
	}
	if rec.LastNotified != nil {
		r.LastNotified = status.TimePtr(fromEpoch(*rec.LastNotified))
	}
	return r
}

// toEpoch converts to fractional epoch seconds with microsecond precision.
func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromEpoch(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}
