package cpejobs

import (
	"context"
	stderr "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

const (
	// All - get all message attribute names
	All string = "All"
	// NonExistentQueue AWS error code
	NonExistentQueue string = "AWS.SimpleQueueService.NonExistentQueue"
	// ApproximateReceiveCount system attribute
	ApproximateReceiveCount string = "ApproximateReceiveCount"
)

// QueueAPI is the part of *sqs.Client the SDK uses. A value of this type is
// a queue handle: authenticated and bound to a region.
type QueueAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
}

// Provisioning controls what Resolve does with a queue that does not exist.
type Provisioning struct {
	Create     bool
	Attributes map[string]string
	Tags       map[string]string
}

// Queue performs single send/receive/delete calls with one queue handle.
type Queue struct {
	api QueueAPI
	log *zap.Logger
}

func NewQueue(api QueueAPI, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}

	return &Queue{api: api, log: log}
}

// Receive long-polls url once for at most wait seconds (capped at 20) and
// returns the first message of the batch. An empty queue is (nil, nil).
func (q *Queue) Receive(ctx context.Context, url string, wait int32) (*Message, error) {
	const op = errors.Op("cpe_queue_receive")

	q.log.Debug("polling from queue", zap.String("queue", url), zap.Int32("wait", clampWait(wait)))
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(url),
		MaxNumberOfMessages:         1,
		WaitTimeSeconds:             clampWait(wait),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeName(ApproximateReceiveCount)},
		MessageAttributeNames:       []string{All},
	})
	if err != nil {
		return nil, newError(op, QueueError, err)
	}

	if out == nil || len(out.Messages) == 0 {
		return nil, nil
	}

	// MaxNumberOfMessages is 1, one message per call
	m := out.Messages[0]
	q.log.Debug("new message received", zap.String("queue", url), zap.Stringp("ID", m.MessageId))

	return fromSQS(&m), nil
}

// Send publishes body to url. Success means enqueued, not delivered.
func (q *Queue) Send(ctx context.Context, url string, body []byte, headers http.Header) error {
	const op = errors.Op("cpe_queue_send")

	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(url),
		MessageBody:       aws.String(bytesToStr(body)),
		MessageAttributes: toMessageAttributes(headers),
	})
	if err != nil {
		return newError(op, QueueError, err)
	}

	return nil
}

// Delete removes a received message. The receipt handle is only valid during
// the visibility timeout, a stale one is reported as a QueueError.
func (q *Queue) Delete(ctx context.Context, url, receiptHandle string) error {
	const op = errors.Op("cpe_queue_delete")

	if receiptHandle == "" {
		return newError(op, QueueError, errors.Str("message has no receipt handle"))
	}

	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		var rhErr *types.ReceiptHandleIsInvalid
		if stderr.As(err, &rhErr) {
			return newError(op, QueueError, fmt.Errorf("stale or invalid receipt handle: %w", err))
		}

		return newError(op, QueueError, err)
	}

	return nil
}

// Resolve returns the URL of a queue given by URL or by name. A missing
// queue is created when p allows it.
func (q *Queue) Resolve(ctx context.Context, queue string, p *Provisioning) (string, error) {
	const op = errors.Op("cpe_queue_resolve")

	if isQueueURL(queue) {
		return queue, nil
	}

	out, err := q.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err == nil {
		return aws.ToString(out.QueueUrl), nil
	}

	if !queueMissing(err) || p == nil || !p.Create {
		return "", newError(op, QueueError, err)
	}

	q.log.Warn("queue does not exist, creating it", zap.String("queue", queue))
	url, err := q.create(ctx, queue, p)
	if err != nil {
		return "", newError(op, QueueError, err)
	}

	return url, nil
}

func (q *Queue) create(ctx context.Context, name string, p *Provisioning) (string, error) {
	out, err := q.api.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name), Attributes: p.Attributes, Tags: p.Tags})
	if err != nil {
		// created concurrently by another process
		var qErr *types.QueueNameExists
		if stderr.As(err, &qErr) {
			res, errQ := q.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
			if errQ != nil {
				return "", errQ
			}

			return aws.ToString(res.QueueUrl), nil
		}

		return "", err
	}

	return aws.ToString(out.QueueUrl), nil
}

func isQueueURL(queue string) bool {
	return strings.HasPrefix(queue, "https://") || strings.HasPrefix(queue, "http://")
}

func queueMissing(err error) bool {
	var qErr *types.QueueDoesNotExist
	if stderr.As(err, &qErr) {
		return true
	}

	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		return apiErr.ErrorCode() == NonExistentQueue || apiErr.ErrorCode() == "QueueDoesNotExist"
	}

	return false
}
