package cpejobs

import (
	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
)

// Queues are the two queues of a client. Values are queue URLs, or queue
// names resolved through GetQueueUrl.
type Queues struct {
	// Input receives the commands sent by the client (START_JOB).
	Input string `json:"input"`
	// Output receives the notifications sent back to the client.
	Output string `json:"output"`
}

// Client identifies a consuming application.
type Client struct {
	Name string `json:"name"`
	// Role is the ARN assumed to reach the client queues in another account.
	Role       string  `json:"role,omitempty"`
	ExternalID string  `json:"externalId,omitempty"`
	Queues     *Queues `json:"queues,omitempty"`
}

// ParseClient converts any accepted client representation into a *Client:
// *Client, Client, a JSON string, []byte, json.RawMessage or a decoded map.
// It does not validate the result, see ValidateClient.
func ParseClient(v any) (*Client, error) {
	const op = errors.Op("cpe_parse_client")

	switch t := v.(type) {
	case nil:
		return nil, missing(op, "client")
	case *Client:
		if t == nil {
			return nil, missing(op, "client")
		}
		return t, nil
	case Client:
		return &t, nil
	case string:
		return decodeClient(op, []byte(t))
	case []byte:
		return decodeClient(op, t)
	case json.RawMessage:
		return decodeClient(op, t)
	case map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, invalid(op, "invalid 'client'", err)
		}
		return decodeClient(op, data)
	default:
		return nil, invalid(op, "unsupported 'client' representation", errors.Errorf("%T", v))
	}
}

func decodeClient(op errors.Op, data []byte) (*Client, error) {
	if len(data) == 0 {
		return nil, missing(op, "client")
	}

	c := &Client{}
	err := json.Unmarshal(data, c)
	if err != nil {
		return nil, invalid(op, "invalid JSON 'client'", err)
	}

	return c, nil
}

// ValidateClient reports the first missing field in the order name, queues,
// queues.input, queues.output and, when requireRole is set, role.
func ValidateClient(c *Client, requireRole bool) error {
	const op = errors.Op("cpe_validate_client")

	switch {
	case c == nil:
		return missing(op, "client")
	case c.Name == "":
		return missing(op, "name")
	case c.Queues == nil:
		return missing(op, "queues")
	case c.Queues.Input == "":
		return missing(op, "queues.input")
	case c.Queues.Output == "":
		return missing(op, "queues.output")
	case requireRole && c.Role == "":
		return missing(op, "role")
	}

	return nil
}

// loadClient parses and validates in one step, the way every operation does.
func loadClient(v any, requireRole bool) (*Client, error) {
	c, err := ParseClient(v)
	if err != nil {
		return nil, err
	}

	err = ValidateClient(c, requireRole)
	if err != nil {
		return nil, err
	}

	return c, nil
}
