package cpejobs

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/roadrunner-server/errors"
	jprop "go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName string = "cpe"
	// upper bound of the poller backoff after a failed receive
	maxBackoff = 5 * time.Second
)

// SDK exchanges job and activity notifications with CPE clients over their
// SQS queues. It is safe for concurrent use.
type SDK struct {
	cfg *Config
	log *zap.Logger

	tracer *sdktrace.TracerProvider
	prop   propagation.TextMapPropagator

	creds     *Manager
	stsAPI    STSAPI
	newHandle HandleFactory
	now       func() time.Time
	backoff   time.Duration

	// queue names resolved to URLs, by session
	mu   sync.Mutex
	urls map[string]string
}

type Option func(*SDK)

// WithTracerProvider sets the provider used for the operation spans.
func WithTracerProvider(tp *sdktrace.TracerProvider) Option {
	return func(s *SDK) {
		s.tracer = tp
	}
}

// WithSTS replaces the STS client used to assume roles.
func WithSTS(api STSAPI) Option {
	return func(s *SDK) {
		s.stsAPI = api
	}
}

// WithHandleFactory replaces the way queue handles are built.
func WithHandleFactory(f HandleFactory) Option {
	return func(s *SDK) {
		s.newHandle = f
	}
}

// WithClock replaces time.Now for envelopes and lease expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *SDK) {
		s.now = now
	}
}

// WithPollBackoff sets the pause of Poll after a failed receive.
func WithPollBackoff(d time.Duration) Option {
	return func(s *SDK) {
		s.backoff = d
	}
}

// New validates cfg and builds the SDK. insideAWS allows the ambient AWS
// credentials (instance profile, task role) when no key is configured.
func New(ctx context.Context, cfg *Config, insideAWS bool, log *zap.Logger, opts ...Option) (*SDK, error) {
	const op = errors.Op("cpe_new_sdk")

	if cfg == nil {
		return nil, newError(op, ConfigError, errors.Str("no configuration provided"))
	}

	err := cfg.Validate(insideAWS)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = zap.NewNop()
	}

	s := &SDK{
		cfg:  cfg,
		log:  log,
		now:  time.Now,
		urls: make(map[string]string),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.tracer == nil {
		s.tracer = sdktrace.NewTracerProvider()
	}

	s.prop = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}, jprop.Jaeger{})
	otel.SetTextMapPropagator(s.prop)

	if s.stsAPI == nil || s.newHandle == nil {
		awsConf, err := loadAWSConfig(ctx, cfg, insideAWS)
		if err != nil {
			return nil, newError(op, ConfigError, err)
		}

		if s.stsAPI == nil {
			s.stsAPI = newSTSClient(awsConf, cfg)
		}
		if s.newHandle == nil {
			s.newHandle = sqsHandleFactory(awsConf, cfg)
		}
	}

	s.creds = NewManager(log, s.stsAPI, s.newHandle, cfg.RequireRole)
	s.creds.now = s.now

	return s, nil
}

// Credentials exposes the credential manager of the SDK.
func (s *SDK) Credentials() *Manager {
	return s.creds
}

func loadAWSConfig(ctx context.Context, cfg *Config, insideAWS bool) (aws.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	opts := make([]func(*config.LoadOptions) error, 0, 2)
	opts = append(opts, config.WithRegion(cfg.Region))

	// inside AWS the ambient credentials are used unless a key is set
	if !insideAWS || (cfg.Key != "" && cfg.Secret != "") {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, cfg.SessionToken)))
	}

	return config.LoadDefaultConfig(ctx, opts...)
}

func newSTSClient(awsConf aws.Config, cfg *Config) *sts.Client {
	return sts.NewFromConfig(awsConf, func(o *sts.Options) {
		if cfg.STSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.STSEndpoint)
		}
	})
}

func sqsHandleFactory(awsConf aws.Config, cfg *Config) HandleFactory {
	return func(creds aws.CredentialsProvider) (QueueAPI, error) {
		conf := awsConf.Copy()
		if creds != nil {
			conf.Credentials = aws.NewCredentialsCache(creds)
		}

		return sqs.NewFromConfig(conf, func(o *sqs.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.Retryer = retry.NewStandard(func(opts *retry.StandardOptions) {
				opts.MaxAttempts = cfg.MaxAttempts
				opts.MaxBackoff = time.Second * 2
			})
		}), nil
	}
}

// queue resolves a client queue (URL or name) with handle.
func (s *SDK) queue(ctx context.Context, c *Client, handle QueueAPI, name string) (string, error) {
	if isQueueURL(name) {
		return name, nil
	}

	key := sessionKey(c) + "|" + name

	s.mu.Lock()
	url, ok := s.urls[key]
	s.mu.Unlock()
	if ok {
		return url, nil
	}

	url, err := NewQueue(handle, s.log).Resolve(ctx, name, &Provisioning{
		Create:     s.cfg.CreateQueues,
		Attributes: s.cfg.Attributes,
		Tags:       s.cfg.Tags,
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.urls[key] = url
	s.mu.Unlock()

	return url, nil
}

func (s *SDK) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Tracer(tracerName).Start(ctx, name)
}

// fail logs credential and queue errors at the operation boundary and
// records every error on the span.
func (s *SDK) fail(span trace.Span, op errors.Op, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if IsKind(CredentialError, err) || IsKind(QueueError, err) {
		s.log.Error("operation failed", zap.String("op", string(op)), zap.Error(err))
	}

	return err
}

func (s *SDK) headers(ctx context.Context) http.Header {
	h := make(http.Header, 3)
	s.prop.Inject(ctx, propagation.HeaderCarrier(h))
	return h
}
