package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoncanonicalizer "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"go.uber.org/zap"

	domain "github.com/hanko-field/variants/internal/domain"
	"github.com/hanko-field/variants/internal/repositories"
)

const (
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
	hashPrefix           = "sha256:"
)

type auditLogService struct {
	repo     repositories.AuditLogRepository
	clock    func() time.Time
	logger   *zap.Logger
	hashSalt string
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Clock      func() time.Time
	Logger     *zap.Logger
	HashSalt   string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &auditLogService{
		repo:     deps.Repository,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists an audit log entry after sanitising its fields. Repository failures are logged
// and never returned.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warn("audit log append failed",
			zap.String("action", entry.Action),
			zap.String("target", entry.TargetRef),
			zap.Error(err),
		)
	}
}

func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Action:     strings.TrimSpace(filter.Action),
		Pagination: filter.Pagination,
	})
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}

	entry := domain.AuditLogEntry{
		Actor:     sanitizeText(record.Actor, 160),
		ActorType: normalizeActorType(record.ActorType, record.Actor),
		Action:    sanitizeText(record.Action, 120),
		TargetRef: sanitizeText(record.TargetRef, 200),
		Severity:  normalizeSeverity(record.Severity),
		RequestID: sanitizeText(record.RequestID, 128),
		CreatedAt: occurred.UTC(),
	}

	if len(record.Metadata) > 0 {
		sensitive := make(map[string]struct{}, len(record.SensitiveMetadataKeys))
		for _, key := range record.SensitiveMetadataKeys {
			sensitive[strings.ToLower(strings.TrimSpace(key))] = struct{}{}
		}
		meta := make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			key = sanitizeText(key, 80)
			if key == "" {
				continue
			}
			if _, ok := sensitive[strings.ToLower(key)]; ok {
				meta[key] = hashPrefix + s.hash(value)
				continue
			}
			meta[key] = sanitizeValue(value)
		}
		entry.Metadata = meta
	}

	if len(record.Diff) > 0 {
		diff := make(map[string]any, len(record.Diff))
		for key, change := range record.Diff {
			key = sanitizeText(key, 80)
			if key == "" {
				continue
			}
			diff[key] = map[string]any{
				"before": sanitizeValue(change.Before),
				"after":  sanitizeValue(change.After),
			}
		}
		entry.Diff = diff
	}
	return entry
}

// hash digests value as salted canonical JSON, so equal maps hash equally regardless of key order.
func (s *auditLogService) hash(value any) string {
	var payload []byte
	if str, ok := value.(string); ok {
		payload = []byte(strings.TrimSpace(str))
	} else if raw, err := json.Marshal(value); err == nil {
		if canonical, err := jsoncanonicalizer.Transform(raw); err == nil {
			payload = canonical
		} else {
			payload = raw
		}
	} else {
		payload = []byte(fmt.Sprintf("%T", value))
	}
	sum := sha256.Sum256(append([]byte(s.hashSalt), payload...))
	return hex.EncodeToString(sum[:])
}

func normalizeActorType(actorType string, actor string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(actorType)); normalized {
	case "user", "staff", "system", "service":
		return normalized
	}
	actor = strings.ToLower(strings.TrimSpace(actor))
	switch {
	case strings.HasPrefix(actor, "staff:"), strings.HasPrefix(actor, "/staff/"):
		return "staff"
	case strings.HasPrefix(actor, "service:"):
		return "service"
	case actor == "system" || strings.HasPrefix(actor, "system:"):
		return "system"
	case strings.HasPrefix(actor, "user:"), strings.HasPrefix(actor, "/users/"):
		return "user"
	default:
		return defaultActorType
	}
}

func normalizeSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

// sanitizeText trims input, drops control characters other than whitespace and caps the byte length.
func sanitizeText(input string, limit int) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
