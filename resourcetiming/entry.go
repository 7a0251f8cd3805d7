// Package resourcetiming holds the externally-visible timing records of
// intercepted requests and notifies observers when a record is published.
package resourcetiming

import (
	"encoding/json"
	"slices"

	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/timing"
)

// Base carries the fields produced by the network stack. All times are
// engine times.
type Base struct {
	Name            string           `json:"name"`
	InitiatorType   string           `json:"initiator_type"`
	NextHopProtocol string           `json:"next_hop_protocol,omitempty"`
	StartTime       timing.VTimeInMs `json:"start_time"`
	WorkerStart     timing.VTimeInMs `json:"worker_start"`
	FetchStart      timing.VTimeInMs `json:"fetch_start"`
	RequestStart    timing.VTimeInMs `json:"request_start"`
	ResponseStart   timing.VTimeInMs `json:"response_start"`
	ResponseEnd     timing.VTimeInMs `json:"response_end"`
	TransferSize    int64            `json:"transfer_size"`
	EncodedBodySize int64            `json:"encoded_body_size"`
	DecodedBodySize int64            `json:"decoded_body_size"`
}

// Duration returns ResponseEnd - StartTime.
func (b Base) Duration() timing.VTimeInMs {
	return b.ResponseEnd - b.StartTime
}

// Entry is a published timing record. It is immutable: the worker timing
// sequence is shared with the sealed session it came from and is only handed
// out as copies.
type Entry struct {
	Base

	requestID    string
	sessionID    string
	workerTiming []session.TimingRecord
}

// NewEntry creates an entry. records is kept as-is, without copying, and must
// not be modified afterwards. A nil records means the entry carries no worker
// timing field at all.
func NewEntry(
	requestID, sessionID string,
	base Base,
	records []session.TimingRecord,
) *Entry {
	return &Entry{
		Base:         base,
		requestID:    requestID,
		sessionID:    sessionID,
		workerTiming: records,
	}
}

// RequestID returns the ID of the request the entry describes.
func (e *Entry) RequestID() string {
	return e.requestID
}

// SessionID returns the ID of the session whose entries were published, or
// "".
func (e *Entry) SessionID() string {
	return e.sessionID
}

// HasWorkerTiming tells if the worker timing field is present. A present
// field may still be empty.
func (e *Entry) HasWorkerTiming() bool {
	return e.workerTiming != nil
}

// NumWorkerTimings returns the number of worker timing records.
func (e *Entry) NumWorkerTimings() int {
	return len(e.workerTiming)
}

// WorkerTiming returns a copy of the worker timing records in the order they
// were appended.
func (e *Entry) WorkerTiming() []session.TimingRecord {
	if e.workerTiming == nil {
		return nil
	}

	return slices.Clone(e.workerTiming)
}

// WorkerTimingNames returns the record names in order.
func (e *Entry) WorkerTimingNames() []string {
	names := make([]string, 0, len(e.workerTiming))
	for _, r := range e.workerTiming {
		names = append(names, r.Name)
	}

	return names
}

type entryJSON struct {
	Base
	RequestID    string                 `json:"request_id"`
	SessionID    string                 `json:"session_id,omitempty"`
	Duration     timing.VTimeInMs       `json:"duration"`
	WorkerTiming []session.TimingRecord `json:"worker_timing"`
}

// MarshalJSON encodes the entry. The worker timing field is an empty array
// rather than null when the session published no records.
func (e *Entry) MarshalJSON() ([]byte, error) {
	records := e.workerTiming
	if records == nil {
		records = []session.TimingRecord{}
	}

	return json.Marshal(entryJSON{
		Base:         e.Base,
		RequestID:    e.requestID,
		SessionID:    e.sessionID,
		Duration:     e.Duration(),
		WorkerTiming: records,
	})
}
