package cpejobs

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	stderr "errors"
	"io"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/roadrunner-server/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

/*
	SEND FROM THE CONTROLLER
	Job and activity notifications go to the output queue of the client the
	job belongs to.
*/

// JobStarted reports a started job, the job data is sent back as workflow.input.
func (s *SDK) JobStarted(ctx context.Context, exec *WorkflowExecution, input any) error {
	return s.sendJobUpdate(ctx, errors.Op("cpe_job_started"), JobStarted, exec, input, true, nil)
}

func (s *SDK) JobCompleted(ctx context.Context, exec *WorkflowExecution, input any) error {
	return s.sendJobUpdate(ctx, errors.Op("cpe_job_completed"), JobCompleted, exec, input, false, nil)
}

func (s *SDK) JobFailed(ctx context.Context, exec *WorkflowExecution, input any, reason string, details any) error {
	return s.sendJobUpdate(ctx, errors.Op("cpe_job_failed"), JobFailed, exec, input, false, reasonDetails(reason, details))
}

func (s *SDK) JobTimeout(ctx context.Context, exec *WorkflowExecution, input any) error {
	return s.sendJobUpdate(ctx, errors.Op("cpe_job_timeout"), JobTimeout, exec, input, false, nil)
}

func (s *SDK) JobCanceled(ctx context.Context, exec *WorkflowExecution, input any, reason string, details any) error {
	return s.sendJobUpdate(ctx, errors.Op("cpe_job_canceled"), JobCanceled, exec, input, false, reasonDetails(reason, details))
}

func (s *SDK) JobTerminated(ctx context.Context, exec *WorkflowExecution, input any, reason string, details any) error {
	return s.sendJobUpdate(ctx, errors.Op("cpe_job_terminated"), JobTerminated, exec, input, false, reasonDetails(reason, details))
}

func (s *SDK) ActivityScheduled(ctx context.Context, task *ActivityTask) error {
	return s.sendActivityUpdate(ctx, errors.Op("cpe_activity_scheduled"), ActivityScheduled, task, false, nil)
}

// ActivityStarted reports a started activity together with its input.
func (s *SDK) ActivityStarted(ctx context.Context, task *ActivityTask) error {
	return s.sendActivityUpdate(ctx, errors.Op("cpe_activity_started"), ActivityStarted, task, true, nil)
}

func (s *SDK) ActivityCompleted(ctx context.Context, task *ActivityTask) error {
	return s.sendActivityUpdate(ctx, errors.Op("cpe_activity_completed"), ActivityCompleted, task, false, nil)
}

func (s *SDK) ActivityFailed(ctx context.Context, task *ActivityTask, reason string, details any) error {
	return s.sendActivityUpdate(ctx, errors.Op("cpe_activity_failed"), ActivityFailed, task, false, reasonDetails(reason, details))
}

func (s *SDK) ActivityCanceled(ctx context.Context, task *ActivityTask, reason string, details any) error {
	return s.sendActivityUpdate(ctx, errors.Op("cpe_activity_canceled"), ActivityCanceled, task, false, reasonDetails(reason, details))
}

// ActivityProgress reports the progress of an activity, usually a percentage.
func (s *SDK) ActivityProgress(ctx context.Context, task *ActivityTask, progress any) error {
	return s.sendActivityUpdate(ctx, errors.Op("cpe_activity_progress"), ActivityProgress, task, false, map[string]any{"progress": progress})
}

func (s *SDK) ActivityPreparing(ctx context.Context, task *ActivityTask) error {
	return s.sendActivityUpdate(ctx, errors.Op("cpe_activity_preparing"), ActivityPreparing, task, false, nil)
}

func (s *SDK) ActivityFinishing(ctx context.Context, task *ActivityTask) error {
	return s.sendActivityUpdate(ctx, errors.Op("cpe_activity_finishing"), ActivityFinishing, task, false, nil)
}

// ActivityTimeout reports a timed out activity. There is no task anymore at
// that point, the activity reference is given explicitly.
func (s *SDK) ActivityTimeout(ctx context.Context, exec *WorkflowExecution, input any, activity Activity) error {
	const op = errors.Op("cpe_activity_timeout")

	ctx, span := s.startSpan(ctx, "cpe_activity_timeout")
	defer span.End()

	wi, err := ParseWorkflowInput(input)
	if err != nil {
		return s.fail(span, op, err)
	}

	env, err := NewEnvelope(ActivityTimeout, wi.JobID, map[string]any{
		"workflow": exec,
		"activity": activity,
	}, s.now())
	if err != nil {
		return s.fail(span, op, err)
	}

	return s.publishOutput(ctx, span, op, wi.Client, env)
}

/*
	SEND FROM THE CLIENT
*/

// StartJob asks CPE to start a job with input as the workflow input. input
// must be a JSON object (map, struct, JSON string or bytes). The client is
// embedded into the payload. When jobID is empty an id is generated. The job
// id is returned as soon as the message is enqueued.
func (s *SDK) StartJob(ctx context.Context, c any, input any, jobID string) (string, error) {
	const op = errors.Op("cpe_start_job")

	ctx, span := s.startSpan(ctx, "cpe_start_job")
	defer span.End()

	cl, err := loadClient(c, s.cfg.RequireRole)
	if err != nil {
		return "", s.fail(span, op, err)
	}

	payload, err := decodeObject(op, input)
	if err != nil {
		return "", s.fail(span, op, err)
	}

	if jobID == "" {
		jobID = newJobID(cl.Name)
	}

	// consumers need to know who to answer to
	payload["client"] = cl

	env, err := NewEnvelope(StartJob, jobID, payload, s.now())
	if err != nil {
		return "", s.fail(span, op, err)
	}

	err = s.publish(ctx, span, op, cl, cl.Queues.Input, env)
	if err != nil {
		return "", err
	}

	s.log.Debug("job start requested", zap.String("job_id", jobID), zap.String("client", cl.Name))
	return jobID, nil
}

// Send publishes an already built envelope to the client output queue.
func (s *SDK) Send(ctx context.Context, c any, env *Envelope) error {
	const op = errors.Op("cpe_send")

	ctx, span := s.startSpan(ctx, "cpe_send")
	defer span.End()

	if env == nil {
		return s.fail(span, op, missing(op, "envelope"))
	}

	err := env.validate(op)
	if err != nil {
		return s.fail(span, op, err)
	}

	cl, err := loadClient(c, s.cfg.RequireRole)
	if err != nil {
		return s.fail(span, op, err)
	}

	return s.publish(ctx, span, op, cl, cl.Queues.Output, env)
}

/*
	RECEIVE
*/

// ReceiveMessage polls the client output queue once for at most timeout
// seconds (capped at 20). No message is (nil, nil); errors are never folded
// into "no message".
func (s *SDK) ReceiveMessage(ctx context.Context, c any, timeout int32) (*Message, error) {
	const op = errors.Op("cpe_receive_message")

	ctx, span := s.startSpan(ctx, "cpe_receive_message")
	defer span.End()

	cl, err := loadClient(c, s.cfg.RequireRole)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	handle, err := s.creds.Acquire(ctx, cl)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	url, err := s.queue(ctx, cl, handle, cl.Queues.Output)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	msg, err := NewQueue(handle, s.log).Receive(ctx, url, timeout)
	if err != nil {
		return nil, s.fail(span, op, newError(op, QueueError, err))
	}

	if msg != nil {
		msg.prop = s.prop
		if s.cfg.Debug {
			s.log.Debug("message received", zap.String("queue", url), zap.String("ID", msg.ID), zap.String("body", msg.Body))
		}
	}

	return msg, nil
}

// DeleteMessage removes msg from the client output queue.
func (s *SDK) DeleteMessage(ctx context.Context, c any, msg *Message) error {
	const op = errors.Op("cpe_delete_message")

	ctx, span := s.startSpan(ctx, "cpe_delete_message")
	defer span.End()

	cl, err := loadClient(c, s.cfg.RequireRole)
	if err != nil {
		return s.fail(span, op, err)
	}

	if msg == nil || msg.ReceiptHandle == "" {
		return s.fail(span, op, newError(op, QueueError, errors.Str("message has no receipt handle")))
	}

	handle, err := s.creds.Acquire(ctx, cl)
	if err != nil {
		return s.fail(span, op, err)
	}

	url, err := s.queue(ctx, cl, handle, cl.Queues.Output)
	if err != nil {
		return s.fail(span, op, err)
	}

	err = NewQueue(handle, s.log).Delete(ctx, url, msg.ReceiptHandle)
	if err != nil {
		return s.fail(span, op, newError(op, QueueError, err))
	}

	return nil
}

func (s *SDK) sendJobUpdate(ctx context.Context, op errors.Op, t MsgType, exec *WorkflowExecution, input any, withInput bool, extra map[string]any) error {
	ctx, span := s.startSpan(ctx, string(op))
	defer span.End()

	wi, err := ParseWorkflowInput(input)
	if err != nil {
		return s.fail(span, op, err)
	}

	if withInput && exec != nil {
		cp := *exec
		cp.Input = wi.Data
		exec = &cp
	}

	data := make(map[string]any, len(extra)+1)
	data["workflow"] = exec
	for k, v := range extra {
		data[k] = v
	}

	env, err := NewEnvelope(t, wi.JobID, data, s.now())
	if err != nil {
		return s.fail(span, op, err)
	}

	return s.publishOutput(ctx, span, op, wi.Client, env)
}

func (s *SDK) sendActivityUpdate(ctx context.Context, op errors.Op, t MsgType, task *ActivityTask, withInput bool, extra map[string]any) error {
	ctx, span := s.startSpan(ctx, string(op))
	defer span.End()

	err := ValidateTask(task)
	if err != nil {
		return s.fail(span, op, err)
	}

	wi, err := ParseWorkflowInput(task.Input)
	if err != nil {
		return s.fail(span, op, err)
	}

	activity := make(map[string]any, len(extra)+3)
	activity["activityId"] = task.ActivityID
	activity["activityType"] = task.ActivityType
	if withInput {
		if in, ok := activityInput(task.ActivityType.Name, wi); ok {
			activity["input"] = in
		}
	}
	for k, v := range extra {
		activity[k] = v
	}

	env, err := NewEnvelope(t, wi.JobID, map[string]any{
		"workflow": task.WorkflowExecution,
		"activity": activity,
	}, s.now())
	if err != nil {
		return s.fail(span, op, err)
	}

	return s.publishOutput(ctx, span, op, wi.Client, env)
}

func (s *SDK) publishOutput(ctx context.Context, span trace.Span, op errors.Op, c *Client, env *Envelope) error {
	err := ValidateClient(c, s.cfg.RequireRole)
	if err != nil {
		return s.fail(span, op, err)
	}

	return s.publish(ctx, span, op, c, c.Queues.Output, env)
}

// publish sends env to queue. The client must be validated already.
func (s *SDK) publish(ctx context.Context, span trace.Span, op errors.Op, c *Client, queue string, env *Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return s.fail(span, op, err)
	}

	handle, err := s.creds.Acquire(ctx, c)
	if err != nil {
		return s.fail(span, op, err)
	}

	url, err := s.queue(ctx, c, handle, queue)
	if err != nil {
		return s.fail(span, op, err)
	}

	err = NewQueue(handle, s.log).Send(ctx, url, body, s.headers(ctx))
	if err != nil {
		return s.fail(span, op, newError(op, QueueError, err))
	}

	fields := []zap.Field{zap.String("queue", url), zap.String("type", string(env.Type)), zap.String("job_id", env.JobID)}
	if s.cfg.Debug {
		fields = append(fields, zap.ByteString("body", body))
	}
	s.log.Debug("message sent", fields...)

	return nil
}

func reasonDetails(reason string, details any) map[string]any {
	return map[string]any{
		"reason":  reason,
		"details": details,
	}
}

// newJobID is md5(name + random token) in hex.
func newJobID(name string) string {
	sum := md5.Sum([]byte(name + uuid.NewString())) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// decodeObject turns any JSON object representation into a fresh map.
func decodeObject(op errors.Op, input any) (map[string]any, error) {
	var data []byte
	switch t := input.(type) {
	case nil:
		return nil, missing(op, "input")
	case string:
		data = []byte(t)
	case []byte:
		data = t
	case json.RawMessage:
		data = t
	default:
		var err error
		data, err = json.Marshal(t)
		if err != nil {
			return nil, invalid(op, "invalid 'input' to start new job", err)
		}
	}

	// numbers stay json.Number so large ids survive the round trip
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	err := dec.Decode(&obj)
	if err != nil {
		return nil, invalid(op, "invalid JSON 'input' to start new job", err)
	}

	var rest any
	if err = dec.Decode(&rest); !stderr.Is(err, io.EOF) {
		return nil, invalid(op, "invalid JSON 'input' to start new job", err)
	}

	if obj == nil {
		return nil, invalid(op, "invalid JSON 'input' to start new job", nil)
	}

	return obj, nil
}
