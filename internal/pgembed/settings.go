package pgembed

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMethod is the authentication method written to pg_hba.conf by initdb.
type AuthMethod string

const (
	AuthMD5         AuthMethod = "md5"
	AuthScramSHA256 AuthMethod = "scram-sha-256"
	AuthTrust       AuthMethod = "trust"
)

const (
	DefaultUsername      = "postgres"
	DefaultPassword      = "password"
	DefaultVersion       = "15.5.0"
	DefaultRepositoryURL = "https://repo1.maven.org/maven2"

	defaultStartTimeout    = 10 * time.Second
	defaultGracefulTimeout = 5 * time.Second
)

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Settings configures an embedded engine.
type Settings struct {
	// Port is the TCP port on localhost.
	Port int

	// StorageDir is the PostgreSQL data directory.
	StorageDir string

	// Persistent keeps StorageDir across runs. When false the directory is
	// wiped at Setup and removed at Stop.
	Persistent bool

	// MigrationDir holds golang-migrate *.up.sql files. Optional.
	MigrationDir string

	Username   string
	Password   string
	AuthMethod AuthMethod

	// Version of the binaries to fetch, e.g. "15.5.0". Ignored with BinaryDir.
	Version string

	// CacheDir receives downloaded binaries.
	CacheDir string

	// BinaryDir is a pre-installed engine containing bin/postgres and bin/initdb.
	BinaryDir string

	RepositoryURL string

	// StartTimeout bounds how long Start waits for the engine to accept connections.
	StartTimeout time.Duration

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	Logger Logger
}

func (s *Settings) applyDefaults() {
	if s.Username == "" {
		s.Username = DefaultUsername
	}
	if s.Password == "" && s.AuthMethod != AuthTrust {
		s.Password = DefaultPassword
	}
	if s.AuthMethod == "" {
		s.AuthMethod = AuthMD5
	}
	if s.Version == "" && s.BinaryDir == "" {
		s.Version = DefaultVersion
	}
	if s.RepositoryURL == "" {
		s.RepositoryURL = DefaultRepositoryURL
	}
	s.RepositoryURL = strings.TrimRight(s.RepositoryURL, "/")
	if s.StartTimeout == 0 {
		s.StartTimeout = defaultStartTimeout
	}
	if s.GracefulTimeout == 0 {
		s.GracefulTimeout = defaultGracefulTimeout
	}
	if s.Logger == nil {
		s.Logger = noopLogger{}
	}
}

// Validate checks the settings after defaults have been applied.
func (s *Settings) Validate() error {
	var errs []error

	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if s.StorageDir == "" {
		errs = append(errs, errors.New("storage dir is required"))
	}
	switch s.AuthMethod {
	case AuthMD5, AuthScramSHA256, AuthTrust:
	default:
		errs = append(errs, fmt.Errorf("unsupported auth method %q", s.AuthMethod))
	}
	if s.BinaryDir == "" && s.CacheDir == "" {
		errs = append(errs, errors.New("cache dir is required when binary dir is not set"))
	}
	if s.StartTimeout < 0 {
		errs = append(errs, errors.New("start timeout must not be negative"))
	}

	return errors.Join(errs...)
}
