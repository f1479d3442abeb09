package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/variants/internal/domain"
	"github.com/hanko-field/variants/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func (s *stubSystemService) ListAuditLogs(context.Context, services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	return domain.CursorPage[domain.AuditLogEntry]{}, nil
}

var _ services.SystemService = (*stubSystemService)(nil)

var readinessNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type readinessBody struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Checks      map[string]struct {
		Status    string `json:"status"`
		Error     string `json:"error"`
		LatencyMS int64  `json:"latencyMs"`
		CheckedAt string `json:"checkedAt"`
	} `json:"checks"`
	Details []string `json:"details"`
}

// variantsReadiness mirrors the report built from the firestore ping and the variants topic lookup.
func variantsReadiness(firestore, pubsub domain.SystemHealthCheck) services.SystemHealthReport {
	status := domain.HealthStatusOK
	for _, check := range []domain.SystemHealthCheck{firestore, pubsub} {
		if check.Status != domain.HealthStatusOK {
			status = check.Status
		}
	}
	return services.SystemHealthReport{
		Status:      status,
		Version:     "2.3.0",
		Environment: "staging",
		Uptime:      time.Hour,
		GeneratedAt: readinessNow,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": firestore,
			"pubsub":    pubsub,
		},
	}
}

func okCheck(latency time.Duration) domain.SystemHealthCheck {
	return domain.SystemHealthCheck{Status: domain.HealthStatusOK, Latency: latency, CheckedAt: readinessNow}
}

func serveReadyz(t *testing.T, system services.SystemService) (*httptest.ResponseRecorder, readinessBody) {
	t.Helper()
	handlers := NewHealthHandlers(
		WithHealthSystemService(system),
		WithHealthBuildInfo(services.BuildInfo{Version: "2.3.0", Environment: "staging", StartedAt: readinessNow.Add(-time.Hour)}),
		WithHealthClock(func() time.Time { return readinessNow }),
	)
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body readinessBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr, body
}

func TestHealthzReportsVariantsBuild(t *testing.T) {
	start := readinessNow.Add(-90 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "2.3.0",
			CommitSHA:   "9f1c2e7",
			Environment: "staging",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return readinessNow }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, domain.HealthStatusOK, body["status"])
	assert.Equal(t, "9f1c2e7", body["commitSha"])
	assert.Equal(t, "1m30s", body["uptime"])
	assert.Equal(t, "2024-05-01T09:00:00Z", body["timestamp"])
	assert.NotContains(t, body, "checks", "liveness never touches firestore or pubsub")
}

func TestReadyzWhenFirestoreAndPubSubAreReachable(t *testing.T) {
	rr, body := serveReadyz(t, &stubSystemService{report: variantsReadiness(okCheck(12*time.Millisecond), okCheck(40*time.Millisecond))})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.HealthStatusOK, body.Status)
	assert.Equal(t, "2.3.0", body.Version)
	assert.Empty(t, body.Details)
	require.Len(t, body.Checks, 2)
	assert.Equal(t, int64(12), body.Checks["firestore"].LatencyMS)
	assert.Equal(t, int64(40), body.Checks["pubsub"].LatencyMS)
	assert.Equal(t, "2024-05-01T09:00:00Z", body.Checks["pubsub"].CheckedAt)
}

func TestReadyzFailsWhenADependencyIsDown(t *testing.T) {
	firestoreDown := domain.SystemHealthCheck{
		Status:    domain.HealthStatusError,
		Error:     "rpc error: code = Unavailable desc = connection refused",
		CheckedAt: readinessNow,
	}
	topicMissing := domain.SystemHealthCheck{
		Status:    domain.HealthStatusDegraded,
		Error:     `topic "variants-created" does not exist`,
		CheckedAt: readinessNow,
	}

	tests := []struct {
		name      string
		report    services.SystemHealthReport
		status    string
		details   []string
		okChecked string
	}{
		{
			name:      "firestore unavailable",
			report:    variantsReadiness(firestoreDown, okCheck(5*time.Millisecond)),
			status:    domain.HealthStatusError,
			details:   []string{"firestore: rpc error: code = Unavailable desc = connection refused"},
			okChecked: "pubsub",
		},
		{
			name:      "variants topic missing",
			report:    variantsReadiness(okCheck(5*time.Millisecond), topicMissing),
			status:    domain.HealthStatusDegraded,
			details:   []string{`pubsub: topic "variants-created" does not exist`},
			okChecked: "firestore",
		},
		{
			name:   "both down",
			report: variantsReadiness(firestoreDown, topicMissing),
			status: domain.HealthStatusDegraded,
			details: []string{
				"firestore: rpc error: code = Unavailable desc = connection refused",
				`pubsub: topic "variants-created" does not exist`,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := serveReadyz(t, &stubSystemService{report: tc.report})

			require.Equal(t, http.StatusServiceUnavailable, rr.Code)
			assert.Equal(t, tc.status, body.Status)
			assert.Equal(t, tc.details, body.Details)
			if tc.okChecked != "" {
				assert.Equal(t, domain.HealthStatusOK, body.Checks[tc.okChecked].Status)
				assert.Empty(t, body.Checks[tc.okChecked].Error)
			}
		})
	}
}

func TestReadyzWhenReportCannotBeBuilt(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("health repository offline")}))
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "health_unavailable", body.Error)
	assert.Equal(t, "health repository offline", body.Message)
}

func TestReadyzWithoutSystemServiceFallsBackToLiveness(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthClock(func() time.Time { return readinessNow }))
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body readinessBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, domain.HealthStatusOK, body.Status)
	assert.Empty(t, body.Checks)
}
