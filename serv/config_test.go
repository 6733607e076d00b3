package serv

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
app_name: "QueryGate Test"
host_port: 127.0.0.1:9090
log_level: debug

auth:
  development: true

database:
  pool_size: 4

instances:
  - id: pg-main
    name: Main Postgres
    kind: postgres
    connection_string: postgres://app:secret@db:5432/app
    schema: public
  - id: mongo-events
    name: Events
    kind: mongodb
    connection_string: mongodb://db:27017/events

script:
  command: mongosh
  timeout: 10s

rate_limiter:
  rate: 5
  bucket: 10
`

func TestReadInConfigFS(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/config/dev.yml", []byte(testConfig), 0o644))

	conf, err := ReadInConfigFS("/config/dev.yml", fs)
	require.NoError(t, err)

	assert.Equal(t, "QueryGate Test", conf.AppName)
	assert.Equal(t, "127.0.0.1:9090", conf.hostPort())
	assert.True(t, conf.Auth.Development)
	assert.Equal(t, 4, conf.DB.PoolSize)

	require.Len(t, conf.Instances, 2)
	assert.Equal(t, "pg-main", conf.Instances[0].ID)
	assert.Equal(t, "mongodb", conf.Instances[1].Kind)

	assert.Equal(t, "mongosh", conf.Script.Command)
	assert.True(t, conf.rateLimiterEnable())
}

func TestConfigDefaults(t *testing.T) {
	conf, err := NewConfig("app_name: X", "yaml")
	require.NoError(t, err)

	assert.Equal(t, defaultHP, conf.hostPort())
	assert.Equal(t, "info", conf.LogLevel)
	assert.Equal(t, "mongosh", conf.Script.Command)
	assert.False(t, conf.rateLimiterEnable())
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("QG_DATABASE__POOL_SIZE", "32")

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/config/dev.yml", []byte(testConfig), 0o644))

	conf, err := ReadInConfigFS("/config/dev.yml", fs)
	require.NoError(t, err)
	assert.Equal(t, 32, conf.DB.PoolSize)
}

func TestShouldUseJSONLogs(t *testing.T) {
	tests := []struct {
		format     string
		production bool
		want       bool
	}{
		{"json", false, true},
		{"auto", true, true},
		{"auto", false, false},
		{"simple", true, false},
	}
	for _, tt := range tests {
		c := &Config{Serv: Serv{LogFormat: tt.format, Production: tt.production}}
		assert.Equal(t, tt.want, c.ShouldUseJSONLogs(), "format=%s production=%v", tt.format, tt.production)
	}
}

func TestHostPortPrecedence(t *testing.T) {
	c := &Config{Serv: Serv{Host: "10.0.0.1", Port: "9999", HostPort: "ignored:1"}}
	assert.Equal(t, "10.0.0.1:9999", c.hostPort())

	c = &Config{Serv: Serv{Port: "7000"}}
	assert.Equal(t, "0.0.0.0:7000", c.hostPort())
}
