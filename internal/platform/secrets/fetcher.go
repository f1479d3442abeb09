package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

const (
	defaultCacheSize = 64
	defaultCacheTTL  = 15 * time.Minute
	latestVersion    = "latest"
	metricNamespace  = "github.com/hanko-field/variants/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves sm:// and secret:// references against Google Secret Manager.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	project    string
	callOpts   []gax.CallOption

	cache *expirable.LRU[string, string]

	latency   metric.Float64Histogram
	resolved  metric.Int64Counter
	metricsOK bool
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type fetcherConfig struct {
	logger     *zap.Logger
	project    string
	meter      metric.Meter
	client     secretManagerClient
	clientOpts []option.ClientOption
	cacheSize  int
	cacheTTL   time.Duration
	backoff    gax.Backoff
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithDefaultProject sets the project used by references that do not name one.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.project = strings.TrimSpace(projectID)
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// WithCache sizes the resolved value cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if size > 0 {
			cfg.cacheSize = size
		}
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

// WithRetryBackoff overrides the backoff used when Secret Manager is briefly unavailable.
func WithRetryBackoff(backoff gax.Backoff) Option {
	return func(cfg *fetcherConfig) {
		cfg.backoff = backoff
	}
}

// NewFetcher builds a Fetcher with caching, retries and metrics.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:    zap.NewNop(),
		cacheSize: defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
		backoff: gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	latency, latencyErr := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret resolutions"),
	)
	resolved, counterErr := meter.Int64Counter(
		"secrets.fetch.count",
		metric.WithDescription("Count of secret resolutions by source"),
	)
	if err := errors.Join(latencyErr, counterErr); err != nil {
		cfg.logger.Warn("secrets: unable to register metrics", zap.Error(err))
	}

	backoff := cfg.backoff
	f := &Fetcher{
		client:  cfg.client,
		logger:  cfg.logger,
		project: cfg.project,
		callOpts: []gax.CallOption{
			gax.WithRetry(func() gax.Retryer {
				return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted}, backoff)
			}),
		},
		cache:     expirable.NewLRU[string, string](cfg.cacheSize, nil, cfg.cacheTTL),
		latency:   latency,
		resolved:  resolved,
		metricsOK: latencyErr == nil && counterErr == nil,
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil {
		return nil
	}
	f.cache.Purge()
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the payload of the referenced secret version.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	resource, err := ParseReference(ref, f.project)
	if err != nil {
		return "", err
	}

	if value, ok := f.cache.Get(resource); ok {
		f.record(ctx, start, resource, "cache")
		return value, nil
	}

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource}, f.callOpts...)
	if err != nil {
		f.record(ctx, start, resource, "error")
		f.logger.Warn("secrets: access secret version failed", zap.String("secret", maskReference(resource)), zap.Error(err))
		return "", fmt.Errorf("secrets: fetch %s: %w", maskReference(resource), err)
	}
	if resp.GetPayload() == nil {
		f.record(ctx, start, resource, "error")
		return "", fmt.Errorf("secrets: empty payload for %s", maskReference(resource))
	}

	value := string(resp.GetPayload().GetData())
	f.cache.Add(resource, value)
	f.record(ctx, start, resource, "remote")
	return value, nil
}

// Invalidate drops the cached value for ref so the next Resolve reads Secret Manager again.
func (f *Fetcher) Invalidate(ref string) {
	resource, err := ParseReference(ref, f.project)
	if err != nil {
		return
	}
	f.cache.Remove(resource)
}

func (f *Fetcher) record(ctx context.Context, start time.Time, resource, source string) {
	if !f.metricsOK {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("secret", maskReference(resource)),
	)
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
	f.resolved.Add(ctx, 1, attrs)
}

// ParseReference converts a secret reference into a Secret Manager version resource name.
//
// Accepted forms:
//
//	sm://projects/<project>/secrets/<name>/versions/<version>
//	sm://<name>                       (default project, latest version)
//	secret://<name>?version=3&project=other
func ParseReference(ref, defaultProject string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", errors.New("secrets: empty reference")
	}

	switch {
	case strings.HasPrefix(trimmed, "sm://"):
		path := strings.Trim(strings.TrimPrefix(trimmed, "sm://"), "/")
		if strings.HasPrefix(path, "projects/") {
			parts := strings.Split(path, "/")
			switch {
			case len(parts) == 4 && parts[2] == "secrets":
				return resourceName(parts[1], parts[3], latestVersion)
			case len(parts) == 6 && parts[2] == "secrets" && parts[4] == "versions":
				return resourceName(parts[1], parts[3], parts[5])
			default:
				return "", fmt.Errorf("secrets: malformed reference %q", ref)
			}
		}
		return resourceName(defaultProject, path, latestVersion)
	case strings.HasPrefix(trimmed, "secret://"):
		u, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
		}
		name := strings.Trim(u.Host+u.Path, "/")
		project := strings.TrimSpace(u.Query().Get("project"))
		if project == "" {
			project = defaultProject
		}
		version := strings.TrimSpace(u.Query().Get("version"))
		if version == "" {
			version = latestVersion
		}
		return resourceName(project, name, version)
	default:
		return "", fmt.Errorf("secrets: unsupported reference %q", ref)
	}
}

func resourceName(project, name, version string) (string, error) {
	project = strings.TrimSpace(project)
	name = strings.TrimSpace(name)
	if project == "" {
		return "", fmt.Errorf("secrets: project is required for secret %q", name)
	}
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("secrets: invalid secret name %q", name)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version), nil
}

func maskReference(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:8])
}
