package cpejobs

import (
	"context"
	"strconv"
	"unsafe"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Message is a message received from a client queue.
type Message struct {
	ID string
	// ReceiptHandle is needed to delete the message, valid only during the
	// visibility timeout.
	ReceiptHandle string
	Body          string
	// Headers are the message and system attributes, trace context included.
	Headers map[string][]string
	// ReceiveCount is the SQS ApproximateReceiveCount, 0 when unknown.
	ReceiveCount int64

	prop propagation.TextMapPropagator
}

// Envelope decodes the message body.
func (m *Message) Envelope() (*Envelope, error) {
	return DecodeEnvelope(strToBytes(m.Body))
}

// Context returns ctx carrying the trace context the sender propagated.
func (m *Message) Context(ctx context.Context) context.Context {
	prop := m.prop
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}

	return prop.Extract(ctx, propagation.HeaderCarrier(m.Headers))
}

func fromSQS(m *types.Message) *Message {
	msg := &Message{
		ID:            aws.ToString(m.MessageId),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Body:          aws.ToString(m.Body),
		Headers:       headersFromMessage(m),
	}

	if val, ok := m.Attributes[ApproximateReceiveCount]; ok {
		rc, err := strconv.ParseInt(val, 10, 64)
		if err == nil {
			msg.ReceiveCount = rc
		}
	}

	return msg
}

func bytesToStr(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	return unsafe.String(unsafe.SliceData(data), len(data))
}

func strToBytes(s string) []byte {
	if s == "" {
		return nil
	}

	return unsafe.Slice(unsafe.StringData(s), len(s))
}
