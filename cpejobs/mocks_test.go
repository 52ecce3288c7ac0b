package cpejobs

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockQueueAPI struct {
	mock.Mock
}

func (m *MockQueueAPI) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.SendMessageOutput), args.Error(1)
}

func (m *MockQueueAPI) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockQueueAPI) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *MockQueueAPI) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) { //nolint:revive,stylecheck
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.GetQueueUrlOutput), args.Error(1)
}

func (m *MockQueueAPI) CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.CreateQueueOutput), args.Error(1)
}

type MockSTS struct {
	mock.Mock
}

func (m *MockSTS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sts.AssumeRoleOutput), args.Error(1)
}

// assumed returns an AssumeRole answer expiring at exp.
func assumed(key string, exp time.Time) *sts.AssumeRoleOutput {
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String(key),
			SecretAccessKey: aws.String("secret-" + key),
			SessionToken:    aws.String("token-" + key),
			Expiration:      aws.Time(exp),
		},
	}
}

// fakeClock is a settable clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.t = c.t.Add(d)
}

const (
	inURL  = "https://sqs.us-east-1.amazonaws.com/123456789012/acme-in"
	outURL = "https://sqs.us-east-1.amazonaws.com/123456789012/acme-out"
)

func acmeClient() *Client {
	return &Client{
		Name:   "acme",
		Queues: &Queues{Input: inURL, Output: outURL},
	}
}

// sentEnvelope decodes the body of a SendMessage call into a generic map.
func sentEnvelope(in *sqs.SendMessageInput) map[string]any {
	env := map[string]any{}
	err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &env)
	if err != nil {
		panic(err)
	}
	return env
}

func testConfig() *Config {
	cfg := &Config{Key: "key", Secret: "secret", Region: "us-east-1"}
	cfg.InitDefault()
	return cfg
}

// newTestSDK builds an SDK whose every queue handle is q.
func newTestSDK(t *testing.T, q QueueAPI, stsAPI STSAPI, log *zap.Logger, opts ...Option) *SDK {
	t.Helper()

	if stsAPI == nil {
		stsAPI = &MockSTS{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	base := []Option{
		WithSTS(stsAPI),
		WithHandleFactory(func(aws.CredentialsProvider) (QueueAPI, error) {
			return q, nil
		}),
	}

	s, err := New(context.Background(), testConfig(), false, log, append(base, opts...)...)
	require.NoError(t, err)
	return s
}
