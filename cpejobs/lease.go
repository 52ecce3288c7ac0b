package cpejobs

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

const (
	// RenewThreshold - a lease with less validity left than this is renewed.
	RenewThreshold = 300 * time.Second
	// LeaseDuration is requested for every assumed role.
	LeaseDuration = 3600 * time.Second

	// STS RoleSessionName limit
	maxSessionName int = 64
)

// STSAPI is the part of *sts.Client used to assume roles.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// HandleFactory builds a queue handle. A nil provider means the base
// (ambient) credentials.
type HandleFactory func(creds aws.CredentialsProvider) (QueueAPI, error)

// Lease is a set of temporary credentials obtained by assuming a role.
type Lease struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Expiration   time.Time
}

// Remaining is the validity left at now.
func (l Lease) Remaining(now time.Time) time.Duration {
	return l.Expiration.Sub(now)
}

// session is one role. Its mutex is held across AssumeRole so concurrent
// callers for the same role wait for a single renewal.
type session struct {
	mu     sync.Mutex
	lease  Lease
	handle QueueAPI
}

// Manager owns the temporary credentials and the queue handles built from
// them. One Manager serves every operation of an SDK instance.
type Manager struct {
	log *zap.Logger

	sts         STSAPI
	newHandle   HandleFactory
	requireRole bool
	now         func() time.Time

	// handle built from the base credentials
	defMu sync.Mutex
	def   QueueAPI

	// role sessions by role ARN and external id, mu guards the map only
	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(log *zap.Logger, stsAPI STSAPI, newHandle HandleFactory, requireRole bool) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		log:         log,
		sts:         stsAPI,
		newHandle:   newHandle,
		requireRole: requireRole,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
}

// Acquire returns a queue handle usable for c. Clients without a role (or a
// nil client) share the handle built from the base credentials. For a role,
// the cached handle is reused while its lease has more than RenewThreshold
// left, otherwise the role is assumed again and the handle replaced.
func (m *Manager) Acquire(ctx context.Context, c *Client) (QueueAPI, error) {
	const op = errors.Op("cpe_acquire_queue_handle")

	if c == nil {
		return m.defaultHandle(op)
	}

	if c.Role == "" {
		if m.requireRole {
			return nil, missing(op, "role")
		}

		return m.defaultHandle(op)
	}

	s := m.session(sessionKey(c))
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	if s.handle != nil && s.lease.Remaining(now) > RenewThreshold {
		m.log.Debug("credentials still valid", zap.String("role", c.Role), zap.Duration("remaining", s.lease.Remaining(now)))
		return s.handle, nil
	}

	m.log.Debug("requesting new credentials from STS", zap.String("role", c.Role), zap.String("client", c.Name))
	lease, err := m.assume(ctx, c, now)
	if err != nil {
		return nil, newError(op, CredentialError, err)
	}

	handle, err := m.newHandle(credentials.NewStaticCredentialsProvider(lease.AccessKey, lease.SecretKey, lease.SessionToken))
	if err != nil {
		return nil, newError(op, CredentialError, err)
	}

	// lease and handle are swapped together, never one without the other
	s.lease = *lease
	s.handle = handle
	m.log.Debug("temporary credentials renewed", zap.String("role", c.Role), zap.Time("expiration", lease.Expiration))

	return handle, nil
}

// Lease returns a copy of the current lease for c, if any.
func (m *Manager) Lease(c *Client) (Lease, bool) {
	if c == nil {
		return Lease{}, false
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionKey(c)]
	m.mu.Unlock()
	if !ok {
		return Lease{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return Lease{}, false
	}

	return s.lease, true
}

// session returns the entry for key, creating an empty one.
func (m *Manager) session(key string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		s = &session{}
		m.sessions[key] = s
	}

	return s
}

func (m *Manager) defaultHandle(op errors.Op) (QueueAPI, error) {
	m.defMu.Lock()
	defer m.defMu.Unlock()

	if m.def != nil {
		return m.def, nil
	}

	handle, err := m.newHandle(nil)
	if err != nil {
		return nil, newError(op, CredentialError, err)
	}

	m.def = handle
	return handle, nil
}

func (m *Manager) assume(ctx context.Context, c *Client, now time.Time) (*Lease, error) {
	in := &sts.AssumeRoleInput{
		RoleArn:         aws.String(c.Role),
		RoleSessionName: aws.String(sessionName(now, c.Name)),
		DurationSeconds: aws.Int32(int32(LeaseDuration / time.Second)),
	}

	if c.ExternalID != "" {
		in.ExternalId = aws.String(c.ExternalID)
	}

	out, err := m.sts.AssumeRole(ctx, in)
	if err != nil {
		return nil, err
	}

	if out == nil || out.Credentials == nil {
		return nil, errors.Str("assume role returned no credentials")
	}

	cr := out.Credentials
	if cr.AccessKeyId == nil || cr.SecretAccessKey == nil || cr.Expiration == nil {
		return nil, errors.Str("assume role returned incomplete credentials")
	}

	return &Lease{
		AccessKey:    *cr.AccessKeyId,
		SecretKey:    *cr.SecretAccessKey,
		SessionToken: aws.ToString(cr.SessionToken),
		Expiration:   *cr.Expiration,
	}, nil
}

func sessionKey(c *Client) string {
	return c.Role + "|" + c.ExternalID
}

// sessionName is "<unix>-<client name>", limited to the characters and length
// STS accepts: [\w+=,.@-]{2,64}.
func sessionName(now time.Time, name string) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(now.Unix(), 10))
	sb.WriteByte('-')

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case strings.ContainsRune("_+=,.@-", r):
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}

	s := sb.String()
	if len(s) > maxSessionName {
		return s[:maxSessionName]
	}

	return s
}
