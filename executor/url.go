package executor

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrInvalidConnString marks a connection URL that cannot be parsed into
// executor parameters.
var ErrInvalidConnString = errors.New("invalid connection string")

const defaultPostgresPort = 5432

// FromConnString parses a standard postgres:// URL into an executor.
// Unless the URL explicitly disables it, TLS is required: a missing sslmode
// parameter is treated as sslmode=require.
func FromConnString(connString string, log *zap.SugaredLogger) (*Executor, error) {
	conf, err := ParseConnString(connString)
	if err != nil {
		return nil, err
	}
	return New(conf, log), nil
}

// ParseConnString converts a connection URL into a Config.
func ParseConnString(connString string) (Config, error) {
	if !strings.HasPrefix(connString, "postgres://") && !strings.HasPrefix(connString, "postgresql://") {
		return Config{}, fmt.Errorf("%w: expected postgres:// scheme", ErrInvalidConnString)
	}

	u, err := url.Parse(connString)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConnString, err)
	}
	if u.Host == "" {
		return Config{}, fmt.Errorf("%w: missing host", ErrInvalidConnString)
	}

	port := defaultPostgresPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("%w: bad port %q", ErrInvalidConnString, p)
		}
	}

	conf := Config{
		Host:   u.Hostname(),
		Port:   uint16(port),
		DBName: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		conf.User = u.User.Username()
		conf.Password, _ = u.User.Password()
	}

	q := u.Query()
	conf.Schema = q.Get("schema")

	switch q.Get("sslmode") {
	case "disable":
		conf.DisableTLS = true
	case "":
		// TLS required by default
	}

	return conf, nil
}
