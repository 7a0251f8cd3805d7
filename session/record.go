package session

import (
	"fmt"
	"math"

	"github.com/sarchlab/workertiming/timing"
)

// Entry types a handler may record. Any other non-empty value is accepted
// as-is.
const (
	EntryTypeMark    = "mark"
	EntryTypeMeasure = "measure"
)

// A TimingRecord is a single named, timestamped instrumentation entry.
// StartTime is relative to the fetch start of the request the record belongs
// to. Names do not need to be unique.
type TimingRecord struct {
	Name      string            `json:"name"`
	EntryType string            `json:"entry_type"`
	StartTime timing.VTimeInMs  `json:"start_time"`
	Duration  *timing.VTimeInMs `json:"duration,omitempty"`
	Metadata  any               `json:"metadata,omitempty"`
}

// Mark creates a mark record.
func Mark(name string, startTime timing.VTimeInMs) TimingRecord {
	return TimingRecord{
		Name:      name,
		EntryType: EntryTypeMark,
		StartTime: startTime,
	}
}

// Measure creates a measure record spanning start to end.
func Measure(name string, start, end timing.VTimeInMs) TimingRecord {
	d := end - start

	return TimingRecord{
		Name:      name,
		EntryType: EntryTypeMeasure,
		StartTime: start,
		Duration:  &d,
	}
}

// WithMetadata returns a copy of the record carrying metadata.
func (r TimingRecord) WithMetadata(metadata any) TimingRecord {
	r.Metadata = metadata
	return r
}

// Validate checks that the record can be appended to a session.
func (r TimingRecord) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidEntry)
	}

	if !isFinite(float64(r.StartTime)) {
		return fmt.Errorf("%w: start time of %q is not finite",
			ErrInvalidEntry, r.Name)
	}

	if r.Duration != nil {
		d := float64(*r.Duration)
		if !isFinite(d) || d < 0 {
			return fmt.Errorf("%w: duration of %q must be finite and non-negative",
				ErrInvalidEntry, r.Name)
		}
	}

	return nil
}

// snapshot returns a copy that shares no mutable state with r, except for
// the opaque metadata which is kept by reference.
func (r TimingRecord) snapshot() TimingRecord {
	if r.EntryType == "" {
		r.EntryType = EntryTypeMark
		if r.Duration != nil {
			r.EntryType = EntryTypeMeasure
		}
	}

	if r.Duration != nil {
		d := *r.Duration
		r.Duration = &d
	}

	return r
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
