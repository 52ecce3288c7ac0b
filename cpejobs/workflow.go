package cpejobs

import (
	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
)

// Known activities. ActivityStarted reports their input differently.
const (
	ValidateInputAndAsset string = "ValidateInputAndAsset"
	TranscodeAsset        string = "TranscodeAsset"
)

// WorkflowExecution is the execution the job runs in, as reported by the
// workflow engine.
type WorkflowExecution struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
	// Input is only filled on JOB_STARTED.
	Input json.RawMessage `json:"input,omitempty"`
}

type ActivityType struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Activity references an activity without its task, used on timeouts.
type Activity struct {
	ActivityID   string       `json:"activityId"`
	ActivityType ActivityType `json:"activityType"`
}

// ActivityTask is the task handed to an activity worker. Input carries the
// raw workflow input JSON.
type ActivityTask struct {
	ActivityID        string             `json:"activityId"`
	ActivityType      ActivityType       `json:"activityType"`
	WorkflowExecution *WorkflowExecution `json:"workflowExecution,omitempty"`
	Input             string             `json:"input"`
}

// WorkflowInput is the input of a running job.
type WorkflowInput struct {
	Client *Client         `json:"client"`
	JobID  string          `json:"job_id"`
	Data   json.RawMessage `json:"data"`

	// transcode jobs
	InputAssetType json.RawMessage `json:"input_asset_type,omitempty"`
	InputAssetInfo json.RawMessage `json:"input_asset_info,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
}

// ParseWorkflowInput normalizes and validates a workflow input given as
// *WorkflowInput, WorkflowInput, JSON string, []byte or json.RawMessage.
// Malformed JSON is reported before any field check.
func ParseWorkflowInput(v any) (*WorkflowInput, error) {
	const op = errors.Op("cpe_parse_workflow_input")

	var wi *WorkflowInput
	switch t := v.(type) {
	case nil:
		return nil, missing(op, "input")
	case *WorkflowInput:
		if t == nil {
			return nil, missing(op, "input")
		}
		wi = t
	case WorkflowInput:
		wi = &t
	case string:
		return decodeWorkflowInput(op, []byte(t))
	case []byte:
		return decodeWorkflowInput(op, t)
	case json.RawMessage:
		return decodeWorkflowInput(op, t)
	default:
		return nil, invalid(op, "unsupported workflow input representation", errors.Errorf("%T", v))
	}

	err := ValidateWorkflowInput(wi)
	if err != nil {
		return nil, err
	}

	return wi, nil
}

func decodeWorkflowInput(op errors.Op, data []byte) (*WorkflowInput, error) {
	wi := &WorkflowInput{}
	err := json.Unmarshal(data, wi)
	if err != nil || len(data) == 0 {
		return nil, invalid(op, "malformed input", err)
	}

	err = ValidateWorkflowInput(wi)
	if err != nil {
		return nil, err
	}

	return wi, nil
}

// ValidateWorkflowInput reports the first missing field in the order client,
// job_id, data.
func ValidateWorkflowInput(wi *WorkflowInput) error {
	const op = errors.Op("cpe_validate_workflow_input")

	switch {
	case wi == nil:
		return missing(op, "input")
	case wi.Client == nil:
		return missing(op, "client")
	case wi.JobID == "":
		return missing(op, "job_id")
	case isNull(wi.Data):
		return missing(op, "data")
	}

	return nil
}

// ValidateTask checks the fields every activity notification needs.
func ValidateTask(task *ActivityTask) error {
	const op = errors.Op("cpe_validate_task")

	switch {
	case task == nil:
		return missing(op, "task")
	case task.ActivityID == "":
		return missing(op, "activityId")
	case task.ActivityType.Name == "":
		return missing(op, "activityType")
	case task.Input == "":
		return missing(op, "input")
	}

	return nil
}

// activityInput is the input reported on ACTIVITY_STARTED. Unknown activity
// types report none.
func activityInput(activityType string, wi *WorkflowInput) (any, bool) {
	switch activityType {
	case TranscodeAsset:
		return map[string]json.RawMessage{
			"input_asset_type": orNull(wi.InputAssetType),
			"input_asset_info": orNull(wi.InputAssetInfo),
			"output":           orNull(wi.Output),
		}, true
	case ValidateInputAndAsset:
		return wi.Data, true
	default:
		return nil, false
	}
}

func isNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}

func orNull(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}

	return data
}
