package cpejobs

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeWireOrder(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

	env, err := NewEnvelope(JobCompleted, "j1", map[string]any{"workflow": nil}, now)
	require.NoError(t, err)

	data, err := env.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"time":1709294400.123456,"type":"JOB_COMPLETED","job_id":"j1","data":{"workflow":null}}`, string(data))
}

func TestEnvelopeTimestamp(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 250000000, time.UTC)

	env, err := NewEnvelope(JobStarted, "j1", nil, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now, env.Timestamp(), time.Microsecond)
}

func TestEnvelopeIdempotentExceptTime(t *testing.T) {
	data := map[string]any{"workflow": map[string]any{"workflowId": "w", "runId": "r"}}
	now := time.Now()

	a, err := NewEnvelope(ActivityCompleted, "j1", data, now)
	require.NoError(t, err)
	b, err := NewEnvelope(ActivityCompleted, "j1", data, now.Add(time.Second))
	require.NoError(t, err)

	assert.NotEqual(t, a.Time, b.Time)
	b.Time = a.Time
	assert.Equal(t, a, b)
}

func TestNewEnvelopeValidation(t *testing.T) {
	_, err := NewEnvelope("JOB_EXPLODED", "j1", nil, time.Now())
	require.Error(t, err)
	assert.True(t, IsKind(ValidationError, err))

	_, err = NewEnvelope(JobFailed, "", nil, time.Now())
	require.Error(t, err)
	assert.True(t, IsKind(ValidationError, err))
}

func TestMsgTypeValid(t *testing.T) {
	for _, tp := range []MsgType{
		StartJob, JobStarted, JobCompleted, JobFailed, JobTimeout, JobCanceled, JobTerminated,
		ActivityScheduled, ActivityStarted, ActivityCompleted, ActivityFailed, ActivityTimeout,
		ActivityCanceled, ActivityProgress, ActivityPreparing, ActivityFinishing,
	} {
		assert.True(t, tp.Valid(), tp)
	}

	assert.False(t, MsgType("").Valid())
	assert.False(t, MsgType("job_started").Valid())
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"time":1709294400.5,"type":"ACTIVITY_PROGRESS","job_id":"j1","data":{"activity":{"progress":42}}}`))
	require.NoError(t, err)

	assert.Equal(t, ActivityProgress, env.Type)
	assert.Equal(t, "j1", env.JobID)

	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"activity":{"progress":42}}`, string(data))

	_, err = DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, IsKind(ValidationError, err))

	_, err = DecodeEnvelope([]byte(`{"type":"NOPE","job_id":"j1"}`))
	require.Error(t, err)
	assert.True(t, IsKind(ValidationError, err))
}
