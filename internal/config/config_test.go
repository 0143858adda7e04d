package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlprovider/internal/dialect"
	"sqlprovider/internal/provider"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "mysql from discrete fields",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:3306)/test?parseTime=true",
		},
		{
			name: "mysql with special characters in password",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3306)/mydb?parseTime=true",
		},
		{
			name: "mysql dsn gains parseTime",
			config: DatabaseConfig{
				Driver:           DriverMySQL,
				ConnectionString: "u:p@tcp(h:1)/d",
			},
			expected: "u:p@tcp(h:1)/d?parseTime=true",
		},
		{
			name: "mysql skip-verify",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "h",
				Port:     1,
				User:     "u",
				Database: "d",
				TLS:      DatabaseTLSConfig{Mode: "skip-verify"},
			},
			expected: "u@tcp(h:1)/d?parseTime=true&tls=skip-verify",
		},
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "pg",
				Port:     5432,
				User:     "app",
				Password: "secret",
				Database: "shop",
			},
			expected: "postgres://app:secret@pg:5432/shop?sslmode=disable",
		},
		{
			name:     "mattn sqlite",
			config:   DatabaseConfig{Driver: DriverSQLite3, Database: "/tmp/app.db"},
			expected: "file:/tmp/app.db?_foreign_keys=on",
		},
		{
			name:     "modernc sqlite",
			config:   DatabaseConfig{Driver: DriverSQLitePureGo, Database: ":memory:"},
			expected: "file::memory:?_pragma=foreign_keys(1)",
		},
		{
			name:     "sqlite dsn passes through",
			config:   DatabaseConfig{Driver: DriverSQLite3, ConnectionString: "file:x.db?mode=ro"},
			expected: "file:x.db?mode=ro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.config.DSN()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDatabaseConfig_DSNUnsupportedDriver(t *testing.T) {
	cfg := DatabaseConfig{Driver: "oracle"}
	_, err := cfg.DSN()
	assert.Error(t, err)
}

func TestDatabaseConfig_Dialect(t *testing.T) {
	for driver, want := range map[string]dialect.Name{
		DriverMySQL:        dialect.MySQL,
		DriverPostgres:     dialect.Postgres,
		DriverSQLite3:      dialect.SQLite,
		DriverSQLitePureGo: dialect.SQLite,
	} {
		cfg := DatabaseConfig{Driver: driver}
		d, err := cfg.Dialect()
		require.NoError(t, err, driver)
		assert.Equal(t, want, d.Name, driver)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, provider.DefaultLimits(), cfg.Provider)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.RelationCache.TTL)
	assert.False(t, cfg.Validate().HasErrors(), cfg.Validate().Error())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
database:
  driver: postgres
  host: filehost
  port: 5432
provider:
  default_page_size: 25
server:
  port: 7000
`), 0o600))

	t.Setenv("SQLPROV_DATABASE_HOST", "envhost")
	t.Setenv("SQLPROV_SERVER_PORT", "9000")

	cfg, err := Load([]string{"--config", file, "--server.port", "9999", "--provider.max_in_clause=500"})
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "envhost", cfg.Database.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Provider.DefaultPageSize)
	assert.Equal(t, 500, cfg.Provider.MaxInClause)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  graphiql_enabled: true\n"), 0o600))

	_, err := Load([]string{"--config", file})
	assert.Error(t, err)
}

func TestLoad_PasswordFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	pwd := filepath.Join(dir, "pw")
	require.NoError(t, os.WriteFile(pwd, []byte("s3cret\n"), 0o600))

	cfg, err := Load([]string{"--database.password_file", pwd})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	v := viper.New()
	v.Set("database.dsn_file", "@-")
	v.Set("database.password_file", "/tmp/password")
	assert.NoError(t, validateSingleStdinFileSource(v))

	v.Set("database.password_file", " @- ")
	err := validateSingleStdinFileSource(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn_file")
	assert.Contains(t, err.Error(), "database.password_file")
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "test",
				TLS:      DatabaseTLSConfig{Mode: "off"},
				Pool:     PoolConfig{MaxOpen: 25, MaxIdle: 5},
			},
			Schema:   SchemaConfig{File: "schema.yaml"},
			Provider: provider.DefaultLimits(),
			Server:   ServerConfig{Port: 8080, HealthCheckTimeout: time.Second},
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1,
				Logging:          LoggingConfig{Level: "info", Format: "json"},
				OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		result := validConfig().Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Warnings)
	})

	errorCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unsupported driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"database port", func(c *Config) { c.Database.Port = 0 }, "database.port"},
		{"database port high", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"sqlite without path", func(c *Config) { c.Database.Driver = DriverSQLite3; c.Database.Database = "" }, "database.database"},
		{"bad mysql dsn", func(c *Config) { c.Database.ConnectionString = "not a dsn" }, "database.dsn"},
		{"TLS mode", func(c *Config) { c.Database.TLS.Mode = "invalid" }, "database.tls.mode"},
		{"half a client cert", func(c *Config) { c.Database.TLS.CertFile = "c.pem" }, "database.tls.cert_file"},
		{"negative pool", func(c *Config) { c.Database.Pool.MaxOpen = -1 }, "database.pool.max_open"},
		{"retry interval", func(c *Config) {
			c.Database.ConnectionTimeout = time.Minute
			c.Database.ConnectionRetryInterval = 0
		}, "database.connection_retry_interval"},
		{"schema file", func(c *Config) { c.Schema.File = "" }, "schema.file"},
		{"negative chunk", func(c *Config) { c.Provider.InsertChunkSize = -1 }, "provider.insert_chunk_size"},
		{"cache ttl", func(c *Config) { c.RelationCache = RelationCacheConfig{Enabled: true, SizeBytes: 1 << 20} }, "relation_cache.ttl"},
		{"server port", func(c *Config) { c.Server.Port = -1 }, "server.port"},
		{"log level", func(c *Config) { c.Observability.Logging.Level = "invalid" }, "observability.logging.level"},
		{"log format", func(c *Config) { c.Observability.Logging.Format = "xml" }, "observability.logging.format"},
		{"sample ratio", func(c *Config) { c.Observability.TraceSampleRatio = 2 }, "observability.trace_sample_ratio"},
		{"OTLP protocol", func(c *Config) { c.Observability.OTLP.Protocol = "http" }, "observability.otlp.protocol"},
		{"OTLP http endpoint", func(c *Config) {
			c.Observability.OTLP.Protocol = "http/protobuf"
			c.Observability.OTLP.Endpoint = "localhost"
		}, "observability.otlp.endpoint"},
		{"traces override", func(c *Config) { c.Observability.Traces = &OTLPConfig{Compression: "zstd"} }, "observability.traces.compression"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			result := cfg.Validate()
			assert.True(t, result.HasErrors())
			assert.Contains(t, result.Error(), tc.field)
		})
	}

	t.Run("valid TLS modes", func(t *testing.T) {
		for _, mode := range []string{"", "off", "skip-verify", "verify-ca", "verify-full"} {
			cfg := validConfig()
			cfg.Database.TLS.Mode = mode
			cfg.Database.TLS.CAFile = "/path/to/ca.pem"
			assert.False(t, cfg.Validate().HasErrors(), "TLS mode %q should be valid", mode)
		}
	})

	t.Run("warnings", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Pool.MaxIdle = 50
		cfg.RelationCache = RelationCacheConfig{Enabled: true, SizeBytes: 1024, TTL: time.Minute}
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		fields := make([]string, 0, len(result.Warnings))
		for _, w := range result.Warnings {
			fields = append(fields, w.Field)
		}
		assert.ElementsMatch(t, []string{"database.pool.max_idle", "relation_cache.size_bytes"}, fields)
	})

	t.Run("in-memory sqlite wants one connection", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Driver = DriverSQLitePureGo
		cfg.Database.Database = ":memory:"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "database.pool.max_open", result.Warnings[0].Field)
	})
}

func TestMergeOTLPConfigs(t *testing.T) {
	obs := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint:    "collector:4317",
			Protocol:    "grpc",
			Headers:     map[string]string{"a": "1"},
			Timeout:     10 * time.Second,
			Compression: "gzip",
		},
		Traces: &OTLPConfig{
			Endpoint: "traces:4318",
			Protocol: "http/protobuf",
			Insecure: true,
			Headers:  map[string]string{"b": "2"},
		},
	}

	traces := obs.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)
	assert.Equal(t, 10*time.Second, traces.Timeout)

	assert.Equal(t, obs.OTLP, obs.GetLogsConfig())
}
