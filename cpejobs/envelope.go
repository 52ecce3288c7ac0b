package cpejobs

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
)

// MsgType is the type of an envelope.
type MsgType string

// Job lifecycle.
const (
	StartJob      MsgType = "START_JOB"
	JobStarted    MsgType = "JOB_STARTED"
	JobCompleted  MsgType = "JOB_COMPLETED"
	JobFailed     MsgType = "JOB_FAILED"
	JobTimeout    MsgType = "JOB_TIMEOUT"
	JobCanceled   MsgType = "JOB_CANCELED"
	JobTerminated MsgType = "JOB_TERMINATED"
)

// Activity lifecycle.
const (
	ActivityScheduled MsgType = "ACTIVITY_SCHEDULED"
	ActivityStarted   MsgType = "ACTIVITY_STARTED"
	ActivityCompleted MsgType = "ACTIVITY_COMPLETED"
	ActivityFailed    MsgType = "ACTIVITY_FAILED"
	ActivityTimeout   MsgType = "ACTIVITY_TIMEOUT"
	ActivityCanceled  MsgType = "ACTIVITY_CANCELED"
	ActivityProgress  MsgType = "ACTIVITY_PROGRESS"
	ActivityPreparing MsgType = "ACTIVITY_PREPARING"
	ActivityFinishing MsgType = "ACTIVITY_FINISHING"
)

var msgTypes = map[MsgType]struct{}{ //nolint:gochecknoglobals
	StartJob:          {},
	JobStarted:        {},
	JobCompleted:      {},
	JobFailed:         {},
	JobTimeout:        {},
	JobCanceled:       {},
	JobTerminated:     {},
	ActivityScheduled: {},
	ActivityStarted:   {},
	ActivityCompleted: {},
	ActivityFailed:    {},
	ActivityTimeout:   {},
	ActivityCanceled:  {},
	ActivityProgress:  {},
	ActivityPreparing: {},
	ActivityFinishing: {},
}

// Valid reports whether t is one of the known types. Order between types is
// not checked, sequencing belongs to the workflow engine.
func (t MsgType) Valid() bool {
	_, ok := msgTypes[t]
	return ok
}

// Envelope is the message put on the queue.
type Envelope struct {
	// Time is in seconds since epoch with microsecond precision.
	Time  float64 `json:"time"`
	Type  MsgType `json:"type"`
	JobID string  `json:"job_id"`
	Data  any     `json:"data"`
}

// NewEnvelope builds an envelope stamped with now.
func NewEnvelope(t MsgType, jobID string, data any, now time.Time) (*Envelope, error) {
	env := &Envelope{
		Time:  timestamp(now),
		Type:  t,
		JobID: jobID,
		Data:  data,
	}

	err := env.validate(errors.Op("cpe_new_envelope"))
	if err != nil {
		return nil, err
	}

	return env, nil
}

// Marshal encodes the envelope in wire order: time, type, job_id, data.
func (e *Envelope) Marshal() ([]byte, error) {
	const op = errors.Op("cpe_envelope_marshal")

	data, err := json.Marshal(e)
	if err != nil {
		return nil, invalid(op, "unable to encode envelope", err)
	}

	return data, nil
}

// Timestamp returns the envelope time.
func (e *Envelope) Timestamp() time.Time {
	sec := int64(e.Time)
	return time.Unix(sec, int64((e.Time-float64(sec))*1e9)).UTC()
}

// DecodeEnvelope parses a queue message body. Unknown types are rejected.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	const op = errors.Op("cpe_decode_envelope")

	env := &Envelope{}
	err := json.Unmarshal(body, env)
	if err != nil {
		return nil, invalid(op, "malformed envelope", err)
	}

	err = env.validate(op)
	if err != nil {
		return nil, err
	}

	return env, nil
}

func (e *Envelope) validate(op errors.Op) error {
	if !e.Type.Valid() {
		return invalid(op, "unknown message type", errors.Errorf("%q", e.Type))
	}

	if e.JobID == "" {
		return missing(op, "job_id")
	}

	return nil
}

func timestamp(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
