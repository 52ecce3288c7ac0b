package cpejobs

import (
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/caarlos0/env/v11"
	"github.com/roadrunner-server/errors"
)

const (
	// maxWaitTime is the SQS long-poll ceiling, longer waits must loop.
	maxWaitTime int32 = 20
)

// Config holds the AWS connection settings of the SDK. Values come from the
// process environment and can be overridden by explicit values, see LoadConfig.
type Config struct {
	Key    string `mapstructure:"key" env:"AWS_ACCESS_KEY_ID"`
	Secret string `mapstructure:"secret" env:"AWS_SECRET_KEY"`
	// SecretAccessKey is the standard AWS variable, used when AWS_SECRET_KEY is not set.
	SecretAccessKey string `mapstructure:"-" env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `mapstructure:"session_token" env:"AWS_SESSION_TOKEN"`
	Region          string `mapstructure:"region" env:"AWS_REGION"`
	DefaultRegion   string `mapstructure:"-" env:"AWS_DEFAULT_REGION"`

	// Endpoint overrides the SQS endpoint (elasticmq, localstack).
	Endpoint string `mapstructure:"endpoint" env:"CPE_SQS_ENDPOINT"`
	// STSEndpoint overrides the STS endpoint.
	STSEndpoint string `mapstructure:"sts_endpoint" env:"CPE_STS_ENDPOINT"`

	// RequireRole makes the client 'role' mandatory: every queue access goes
	// through an assumed role. Controller processes usually set it.
	RequireRole bool `mapstructure:"require_role" env:"CPE_REQUIRE_ROLE"`

	// CreateQueues allows queues given by name (not URL) to be created when
	// they do not exist yet.
	CreateQueues bool `mapstructure:"create_queues" env:"CPE_CREATE_QUEUES"`

	// MaxAttempts is handed to the AWS standard retryer. The SDK itself never retries.
	MaxAttempts int `mapstructure:"max_attempts" env:"CPE_MAX_ATTEMPTS"`

	// Debug adds message bodies to the debug logs.
	Debug bool `mapstructure:"debug" env:"CPE_DEBUG"`

	// Attributes used for the created queues, keys are case-insensitive:
	// visibilitytimeout, messageretentionperiod, redrivepolicy, ...
	Attributes map[string]string `mapstructure:"attributes"`
	// Tags used for the created queues.
	Tags map[string]string `mapstructure:"tags"`
}

// Overrides are explicit settings applied on top of the environment. Unset
// (empty, zero or nil) fields leave the environment value in place, so an
// explicit false can turn off a boolean set in the environment.
type Overrides struct {
	Key          string `mapstructure:"key"`
	Secret       string `mapstructure:"secret"`
	SessionToken string `mapstructure:"session_token"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	STSEndpoint  string `mapstructure:"sts_endpoint"`

	RequireRole  *bool `mapstructure:"require_role"`
	CreateQueues *bool `mapstructure:"create_queues"`
	Debug        *bool `mapstructure:"debug"`

	MaxAttempts int `mapstructure:"max_attempts"`

	Attributes map[string]string `mapstructure:"attributes"`
	Tags       map[string]string `mapstructure:"tags"`
}

// LoadConfig reads the environment and then applies o on top of it.
func LoadConfig(o Overrides) (*Config, error) {
	const op = errors.Op("cpe_load_config")

	cfg := &Config{}
	err := env.Parse(cfg)
	if err != nil {
		return nil, newError(op, ConfigError, err)
	}

	cfg.apply(&o)
	cfg.InitDefault()

	return cfg, nil
}

func (c *Config) apply(o *Overrides) {
	if o.Key != "" {
		c.Key = o.Key
	}
	if o.Secret != "" {
		c.Secret = o.Secret
	}
	if o.SessionToken != "" {
		c.SessionToken = o.SessionToken
	}
	if o.Region != "" {
		c.Region = o.Region
	}
	if o.Endpoint != "" {
		c.Endpoint = o.Endpoint
	}
	if o.STSEndpoint != "" {
		c.STSEndpoint = o.STSEndpoint
	}
	if o.MaxAttempts > 0 {
		c.MaxAttempts = o.MaxAttempts
	}
	if o.Attributes != nil {
		c.Attributes = o.Attributes
	}
	if o.Tags != nil {
		c.Tags = o.Tags
	}
	if o.RequireRole != nil {
		c.RequireRole = *o.RequireRole
	}
	if o.CreateQueues != nil {
		c.CreateQueues = *o.CreateQueues
	}
	if o.Debug != nil {
		c.Debug = *o.Debug
	}
}

func (c *Config) InitDefault() {
	if c.Secret == "" {
		c.Secret = c.SecretAccessKey
	}

	if c.Region == "" {
		c.Region = c.DefaultRegion
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = retry.DefaultMaxAttempts
	}

	if c.Attributes != nil {
		newAttr := make(map[string]string, len(c.Attributes))
		toAwsAttribute(c.Attributes, newAttr)
		c.Attributes = newAttr
	} else {
		c.Attributes = make(map[string]string)
	}

	if c.Tags == nil {
		c.Tags = make(map[string]string)
	}
}

// Validate checks that the SDK can reach AWS. Inside AWS the ambient
// credentials (instance profile, task role) are used when no key is set.
func (c *Config) Validate(insideAWS bool) error {
	const op = errors.Op("cpe_validate_config")

	if c.Region == "" {
		return newError(op, ConfigError, errors.Str("provide AWS 'region' (AWS_REGION or AWS_DEFAULT_REGION)"))
	}

	if insideAWS {
		return nil
	}

	if c.Key == "" {
		return newError(op, ConfigError, errors.Str("provide AWS 'key' (AWS_ACCESS_KEY_ID)"))
	}

	if c.Secret == "" {
		return newError(op, ConfigError, errors.Str("provide AWS 'secret' (AWS_SECRET_KEY)"))
	}

	return nil
}

func clampWait(wait int32) int32 {
	switch {
	case wait < 0:
		// 0 - short poll
		return 0
	case wait > maxWaitTime:
		return maxWaitTime
	default:
		return wait
	}
}
