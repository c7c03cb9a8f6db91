package config

import (
	"errors"
	"strings"
	"time"
)

const defaultTimeoutSeconds = 30

// AuthMethod names the credential shape used to talk to Metabase.
type AuthMethod string

const (
	AuthAPIKey           AuthMethod = "api_key"
	AuthSessionID        AuthMethod = "session_id"
	AuthUsernamePassword AuthMethod = "username_password"
)

// Credentials is a closed set of credential shapes: APIKey, SessionID and
// UsernamePassword. Consumers switch on the concrete type.
type Credentials interface {
	Method() AuthMethod
	isCredentials()
}

// APIKey authenticates every request with a static API key.
type APIKey struct {
	Key string
}

// SessionID authenticates every request with a pre-issued session id.
type SessionID struct {
	ID string
}

// UsernamePassword exchanges a username and password for a session token.
type UsernamePassword struct {
	Username string
	Password string
}

func (APIKey) Method() AuthMethod           { return AuthAPIKey }
func (SessionID) Method() AuthMethod        { return AuthSessionID }
func (UsernamePassword) Method() AuthMethod { return AuthUsernamePassword }

func (APIKey) isCredentials()           {}
func (SessionID) isCredentials()        {}
func (UsernamePassword) isCredentials() {}

// Connection is the resolved, immutable description of how to reach the
// Metabase server. Build it with Resolve.
type Connection struct {
	// URL is the base URL without a trailing slash.
	URL         string
	Credentials Credentials
	VerifySSL   bool
	Timeout     time.Duration
}

// Sentinel errors returned by Resolve.
var (
	ErrMissingURL = errors.New(EnvURL + " environment variable is required")
	ErrNoAuth     = errors.New("authentication required: provide " + EnvAPIKey + ", " +
		EnvSessionID + ", or both " + EnvUserEmail + " and " + EnvPassword)
)

// Resolve selects exactly one credential shape from m by priority
// (API key, then session id, then username and password) and returns the
// resulting Connection. A non-positive timeout falls back to 30 seconds.
func Resolve(m MetabaseConfig) (Connection, error) {
	url := strings.TrimRight(strings.TrimSpace(m.URL), "/")
	if url == "" {
		return Connection{}, ErrMissingURL
	}

	var creds Credentials
	switch {
	case m.APIKey != "":
		creds = APIKey{Key: m.APIKey}
	case m.SessionID != "":
		creds = SessionID{ID: m.SessionID}
	case m.Username != "" && m.Password != "":
		creds = UsernamePassword{Username: m.Username, Password: m.Password}
	default:
		return Connection{}, ErrNoAuth
	}

	timeout := time.Duration(m.Timeout) * time.Second
	if m.Timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	return Connection{
		URL:         url,
		Credentials: creds,
		VerifySSL:   m.VerifySSL,
		Timeout:     timeout,
	}, nil
}
