package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/variants/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

type stubAuditService struct {
	records []AuditLogRecord
	filter  AuditLogFilter
	result  domain.CursorPage[domain.AuditLogEntry]
	err     error
}

func (s *stubAuditService) Record(_ context.Context, record AuditLogRecord) {
	s.records = append(s.records, record)
}

func (s *stubAuditService) List(_ context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	s.filter = filter
	return s.result, s.err
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"pubsub":    {Status: domain.HealthStatusDegraded},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
	if report.Version != "1.2.3" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build info %+v", report)
	}
	if report.Uptime != 5*time.Minute {
		t.Fatalf("unexpected uptime %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected generated at %s", report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportPropagatesError(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("down")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		"empty":    {want: domain.HealthStatusOK},
		"all ok":   {checks: map[string]domain.SystemHealthCheck{"a": {Status: domain.HealthStatusOK}}, want: domain.HealthStatusOK},
		"degraded": {checks: map[string]domain.SystemHealthCheck{"a": {Status: domain.HealthStatusDegraded}}, want: domain.HealthStatusDegraded},
		"error wins": {checks: map[string]domain.SystemHealthCheck{
			"a": {Status: domain.HealthStatusDegraded},
			"b": {Status: domain.HealthStatusError},
		}, want: domain.HealthStatusError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := deriveStatus(tc.checks); got != tc.want {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestSystemServiceListAuditLogs(t *testing.T) {
	audit := &stubAuditService{result: domain.CursorPage[domain.AuditLogEntry]{Items: []domain.AuditLogEntry{{ID: "log_1"}}}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{}, Audit: audit})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	page, err := svc.ListAuditLogs(context.Background(), AuditLogFilter{TargetRef: "/products/prod_1"})
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(page.Items) != 1 || audit.filter.TargetRef != "/products/prod_1" {
		t.Fatalf("unexpected result %+v filter %+v", page, audit.filter)
	}

	bare, _ := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{}})
	if _, err := bare.ListAuditLogs(context.Background(), AuditLogFilter{}); err == nil {
		t.Fatalf("expected error without audit service")
	}
}
