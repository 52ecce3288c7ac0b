package cpejobs

import (
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	StringType string = "String"
	NumberType string = "Number"
	BinaryType string = "Binary"
)

// toMessageAttributes packs propagation headers into SQS string attributes.
// SQS rejects empty attribute values, those are skipped.
func toMessageAttributes(h http.Header) map[string]types.MessageAttributeValue {
	if len(h) == 0 {
		return nil
	}

	ret := make(map[string]types.MessageAttributeValue, len(h))
	for k, v := range h {
		if len(v) == 0 || v[0] == "" {
			continue
		}

		ret[k] = types.MessageAttributeValue{DataType: aws.String(StringType), StringValue: aws.String(v[0])}
	}

	if len(ret) == 0 {
		return nil
	}

	return ret
}

// headersFromMessage merges message attributes and system attributes into
// one header map.
func headersFromMessage(m *types.Message) map[string][]string {
	ret := make(map[string][]string, len(m.MessageAttributes)+len(m.Attributes))

	for k, v := range m.Attributes {
		ret[k] = []string{v}
	}

	for k, v := range m.MessageAttributes {
		if v.DataType == nil {
			continue
		}

		// Amazon SQS supports the following logical data types: String, Number, and Binary.
		switch *v.DataType {
		case BinaryType:
			if v.BinaryValue == nil {
				continue
			}

			ret[k] = []string{string(v.BinaryValue)}
		case StringType, NumberType:
			if v.StringValue == nil {
				continue
			}

			ret[k] = []string{*v.StringValue}
		}
	}

	return ret
}
