package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultAdminRoleClaim      = "role"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultVariantsTopic       = "product-variant-created"
	defaultOptionSubscription  = "variants-product-options"
	defaultReceiveConcurrency  = 4
	defaultPageSize            = 15
	defaultMaxPageSize         = 100
	defaultResolutionCacheSize = 512
	defaultResolutionCacheTTL  = 10 * time.Minute
	defaultRegionCacheTTL      = 5 * time.Minute
	defaultLogLevel            = "info"

	envPrefix = "VARIANTS_"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Variants    VariantsConfig
	Audit       AuditConfig
	Log         LogConfig
	Build       BuildInfo
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings used to verify admin ID tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	RoleClaim       string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic generated variants are announced on and the subscription
// carrying product option events.
type PubSubConfig struct {
	ProjectID          string
	EmulatorHost       string
	VariantsTopic      string
	OptionSubscription string
	ReceiveConcurrency int
	EnableReceiver     bool
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls verification of Google-signed Pub/Sub push tokens.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// VariantsConfig tunes draft listing and the in-process caches.
type VariantsConfig struct {
	DefaultPageSize     int
	MaxPageSize         int
	ResolutionCacheSize int
	ResolutionCacheTTL  time.Duration
	RegionCacheTTL      time.Duration
}

// AuditConfig holds the salt used when hashing sensitive audit metadata.
type AuditConfig struct {
	HashSalt string
}

// LogConfig selects the minimum log level.
type LogConfig struct {
	Level string
}

// BuildInfo is stamped at deploy time and reported by the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the
// system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a single raw value with the same precedence as Load. It lets callers read the
// settings needed to build a secret resolver before the full configuration is loaded.
func Lookup(key string, opts ...Option) (string, error) {
	lookup, err := newLookup(opts...)
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return value, nil
}

// Load assembles the configuration from defaults, the .env file, the process environment and
// Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := newLookup(opts...)
	if err != nil {
		return Config{}, err
	}

	env := strings.ToLower(stringWithDefault(lookup, "SECURITY_ENVIRONMENT", defaultSecurityEnvironment))
	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "FIREBASE_CREDENTIALS_FILE", ""),
			RoleClaim:       stringWithDefault(lookup, "FIREBASE_ROLE_CLAIM", defaultAdminRoleClaim),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:          stringWithDefault(lookup, "PUBSUB_PROJECT_ID", ""),
			EmulatorHost:       stringWithDefault(lookup, "PUBSUB_EMULATOR_HOST", ""),
			VariantsTopic:      stringWithDefault(lookup, "PUBSUB_VARIANTS_TOPIC", defaultVariantsTopic),
			OptionSubscription: stringWithDefault(lookup, "PUBSUB_OPTION_SUBSCRIPTION", defaultOptionSubscription),
			ReceiveConcurrency: intWithDefault(lookup, "PUBSUB_RECEIVE_CONCURRENCY", defaultReceiveConcurrency),
			EnableReceiver:     boolWithDefault(lookup, "PUBSUB_ENABLE_RECEIVER", false),
		},
		Security: SecurityConfig{
			Environment: env,
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Variants: VariantsConfig{
			DefaultPageSize:     intWithDefault(lookup, "GENERATION_PAGE_SIZE", defaultPageSize),
			MaxPageSize:         intWithDefault(lookup, "GENERATION_MAX_PAGE_SIZE", defaultMaxPageSize),
			ResolutionCacheSize: intWithDefault(lookup, "GENERATION_CACHE_SIZE", defaultResolutionCacheSize),
			ResolutionCacheTTL:  durationWithDefault(lookup, "GENERATION_CACHE_TTL", defaultResolutionCacheTTL),
			RegionCacheTTL:      durationWithDefault(lookup, "REGION_CACHE_TTL", defaultRegionCacheTTL),
		},
		Audit: AuditConfig{
			HashSalt: stringWithDefault(lookup, "AUDIT_HASH_SALT", ""),
		},
		Log: LogConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
		Build: BuildInfo{
			Version:     stringWithDefault(lookup, "BUILD_VERSION", "dev"),
			CommitSHA:   stringWithDefault(lookup, "BUILD_COMMIT_SHA", ""),
			Environment: env,
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, strings.TrimPrefix(defaultSecurityIssuer, "https://")}
	}

	secretFields := []*string{
		&cfg.Security.OIDC.Audience,
		&cfg.Audit.HashSalt,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLookup(opts ...Option) (func(string) (string, bool), error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	return func(key string) (string, bool) {
		key = envPrefix + key
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !IsSecretReference(value) {
		return value, nil
	}
	ref := strings.TrimSpace(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

// IsSecretReference reports whether value points at Secret Manager instead of holding a literal.
func IsSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "sm://") || strings.HasPrefix(trimmed, "secret://")
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.PubSub.VariantsTopic) == "" {
		missing = append(missing, "PubSub.VariantsTopic")
	}
	if cfg.PubSub.EnableReceiver && strings.TrimSpace(cfg.PubSub.OptionSubscription) == "" {
		missing = append(missing, "PubSub.OptionSubscription")
	}
	if cfg.Security.Environment != defaultSecurityEnvironment && cfg.Security.OIDC.Audience == "" {
		missing = append(missing, "Security.OIDC.Audience")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.Variants.DefaultPageSize <= 0 {
		missing = append(missing, "Variants.DefaultPageSize")
	}
	if cfg.Variants.MaxPageSize < cfg.Variants.DefaultPageSize {
		missing = append(missing, "Variants.MaxPageSize")
	}
	if cfg.Variants.ResolutionCacheSize <= 0 {
		missing = append(missing, "Variants.ResolutionCacheSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
