package cpe

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/sportarchive/cpe-sqs/cpejobs"
	"go.uber.org/zap"
)

const (
	pluginName           string = "cpe"
	awsMetaDataURL       string = "http://169.254.169.254/latest/dynamic/instance-identity/"
	awsMetaDataIMDSv2URL string = "http://169.254.169.254/latest/api/token"
	awsTokenHeader       string = "X-aws-ec2-metadata-token-ttl-seconds" //nolint:gosec
)

// detectAWS reports whether the process runs on AWS infrastructure.
var detectAWS = func() bool { //nolint:gochecknoglobals
	return isInAWS() || isinAWSIMDSv2()
}

type Plugin struct {
	insideAWS bool
	mu        sync.RWMutex
	// closed once the environment detection is done
	detected chan struct{}

	log *zap.Logger
	cfg Configurer
}

type Configurer interface {
	// UnmarshalKey takes a single key and unmarshal it into a Struct.
	UnmarshalKey(name string, out any) error
	// Has checks if config section exists.
	Has(name string) bool
}

type Logger interface {
	NamedLogger(name string) *zap.Logger
}

func (p *Plugin) Init(log Logger, cfg Configurer) error {
	p.log = log.NamedLogger(pluginName)
	p.cfg = cfg

	/*
		we need to determine in what environment we are running
		1. Non-AWS - key and secret should be set (config section or env)
		2. AWS - the ambient credentials may be used
	*/
	detected := make(chan struct{})
	p.mu.Lock()
	p.detected = detected
	p.mu.Unlock()

	go func() {
		inside := detectAWS()
		p.mu.Lock()
		p.insideAWS = inside
		p.mu.Unlock()
		close(detected)
	}()

	return nil
}

func (p *Plugin) Name() string {
	return pluginName
}

// SDK builds an SDK from the "cpe" configuration section, when present, on
// top of the process environment.
func (p *Plugin) SDK(ctx context.Context, opts ...cpejobs.Option) (*cpejobs.SDK, error) {
	const op = errors.Op("cpe_plugin_sdk")

	var explicit cpejobs.Overrides
	if p.cfg != nil && p.cfg.Has(pluginName) {
		err := p.cfg.UnmarshalKey(pluginName, &explicit)
		if err != nil {
			return nil, &cpejobs.Error{Kind: cpejobs.ConfigError, Op: op, Err: err}
		}
	}

	conf, err := cpejobs.LoadConfig(explicit)
	if err != nil {
		return nil, err
	}

	// the environment detection started in Init decides whether the ambient
	// credentials may be used
	p.mu.RLock()
	detected := p.detected
	p.mu.RUnlock()
	if detected != nil {
		select {
		case <-detected:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.RLock()
	insideAWS := p.insideAWS
	p.mu.RUnlock()

	p.log.Debug("creating sdk", zap.String("region", conf.Region), zap.Bool("inside_aws", insideAWS), zap.Bool("require_role", conf.RequireRole))
	return cpejobs.New(ctx, conf, insideAWS, p.log, opts...)
}

// https://docs.aws.amazon.com/AWSEC2/latest/UserGuide/ec2-instance-metadata.html
// https://docs.aws.amazon.com/AWSEC2/latest/UserGuide/identify_ec2_instances.html
func isInAWS() bool {
	client := &http.Client{
		Timeout: time.Second * 2,
	}
	resp, err := client.Get(awsMetaDataURL) //nolint:noctx
	if err != nil {
		return false
	}

	_ = resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// https://docs.aws.amazon.com/AWSEC2/latest/UserGuide/configuring-instance-metadata-service.html
func isinAWSIMDSv2() bool {
	client := &http.Client{
		Timeout: time.Second * 2,
	}

	// probably we're in the IMDSv2, let's try different endpoint
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, awsMetaDataIMDSv2URL, nil)
	if err != nil {
		return false
	}

	// 10 seconds should be fine to just check
	req.Header.Set(awsTokenHeader, "10")

	resp, err := client.Do(req)
	if err != nil {
		return false
	}

	_ = resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
