package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"sqlprovider/internal/relation"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.validateSchema(result)
	c.validateProvider(result)
	c.RelationCache.validate(result)
	c.Server.validate(result)
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite3, DriverSQLitePureGo:
	default:
		result.fail("database.driver", fmt.Sprintf("unsupported driver %q", d.Driver),
			"valid values are: mysql, postgres, sqlite3, sqlite")
		return
	}

	if d.ConnectionString == "" {
		if d.IsSQLite() {
			if strings.TrimSpace(d.Database) == "" {
				result.fail("database.database", "sqlite drivers need a database file path", "use :memory: for an in-memory database")
			}
		} else {
			if d.Port < 1 || d.Port > 65535 {
				result.fail("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
			}
			if strings.TrimSpace(d.Host) == "" {
				result.fail("database.host", "host is required when dsn is not set", "")
			}
		}
	} else if d.Driver == DriverMySQL {
		if _, err := parseMySQLDSN(d.ConnectionString); err != nil {
			result.fail("database.dsn", err.Error(), "set a valid MySQL DSN in database.dsn/database.dsn_file")
		}
	}

	d.TLS.validate(d, result)

	if d.Pool.MaxOpen < 0 {
		result.fail("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.fail("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.warn("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}
	if d.IsSQLite() && d.Pool.MaxOpen != 1 && strings.Contains(d.Database, ":memory:") {
		result.warn("database.pool.max_open", "in-memory sqlite databases are per connection",
			"set database.pool.max_open to 1 so every query sees the same database")
	}

	if d.ConnectionTimeout < 0 {
		result.fail("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.fail("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.fail("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.warn("database.connection_retry_interval", "connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}
}

func (t *DatabaseTLSConfig) validate(d *DatabaseConfig, result *ValidationResult) {
	switch t.Mode {
	case "", "off", "skip-verify", "verify-ca", "verify-full":
	default:
		result.fail("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode),
			"valid values are: off, skip-verify, verify-ca, verify-full")
		return
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.warn("database.tls.ca_file", "no CA file configured", "the system certificate pool will be used")
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		result.fail("database.tls.cert_file", "cert_file and key_file must be set together", "")
	}
	if d.IsSQLite() && t.Mode != "" && t.Mode != "off" {
		result.warn("database.tls.mode", "TLS settings are ignored for sqlite drivers", "")
	}
}

func (c *Config) validateSchema(result *ValidationResult) {
	if strings.TrimSpace(c.Schema.File) == "" {
		result.fail("schema.file", "schema file is required", "point schema.file at a YAML table definition file")
	}
}

func (c *Config) validateProvider(result *ValidationResult) {
	p := c.Provider
	check := func(field string, value int) {
		if value < 0 {
			result.fail("provider."+field, fmt.Sprintf("%s cannot be negative", field), "")
		}
	}
	check("insert_chunk_size", p.InsertChunkSize)
	check("mutation_chunk_size", p.MutationChunkSize)
	check("max_in_clause", p.MaxInClause)
	check("default_page_size", p.DefaultPageSize)
	check("max_filter_depth", p.MaxFilterDepth)

	if c.Database.Driver == DriverPostgres && p.MaxInClause > 32767 {
		result.warn("provider.max_in_clause", "postgres accepts at most 65535 bind parameters per statement",
			"keep max_in_clause well below that limit")
	}
}

func (r *RelationCacheConfig) validate(result *ValidationResult) {
	if !r.Enabled {
		return
	}
	if r.SizeBytes < relation.MinCacheSize {
		result.warn("relation_cache.size_bytes",
			fmt.Sprintf("size %d is below the minimum of %d bytes", r.SizeBytes, relation.MinCacheSize),
			"the minimum size will be used")
	}
	if r.TTL <= 0 {
		result.fail("relation_cache.ttl", "ttl must be positive when the cache is enabled", "set a ttl such as 30s")
	} else if r.TTL.Seconds() < 1 {
		result.warn("relation_cache.ttl", "ttl is rounded up to one second", "")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.fail("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}
	if s.MaxBodyBytes < 0 {
		result.fail("server.max_body_bytes", "max_body_bytes cannot be negative", "")
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0 {
		result.fail("server", "timeouts cannot be negative", "")
	}
	if s.CORS.Enabled && len(s.CORS.AllowedOrigins) == 0 {
		result.warn("server.cors.allowed_origins", "CORS is enabled but no origins are allowed", "")
	}
	if s.RateLimit.Enabled && (s.RateLimit.RPS <= 0 || s.RateLimit.Burst <= 0) {
		result.fail("server.rate_limit", "rps and burst must be positive when rate limiting is enabled", "")
	}
	if s.HealthCheckTimeout <= 0 {
		result.warn("server.health_check_timeout", "health checks have no timeout", "set a timeout such as 2s")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.fail("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level),
			"valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.fail("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", fmt.Sprintf("ratio %v is outside 0.0-1.0", o.TraceSampleRatio), "")
	}
	if o.SQLCommenterEnabled && !o.TracingEnabled {
		result.warn("observability.sqlcommenter_enabled", "sql comments carry no trace context while tracing is disabled", "")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.fail(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
			"use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.fail(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}
	if o.RetryMaxAttempts < 0 {
		result.fail(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
