package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/variants/internal/domain"
	pfirestore "github.com/hanko-field/variants/internal/platform/firestore"
	"github.com/hanko-field/variants/internal/platform/pagination"
	"github.com/hanko-field/variants/internal/repositories"
)

const (
	auditLogsCollection = "audit_logs"
	defaultAuditPage    = 50
)

// AuditLogRepository appends audit entries and lists them newest first.
type AuditLogRepository struct {
	collection *pfirestore.Collection[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository: firestore provider is required")
	}
	return &AuditLogRepository{collection: pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection)}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = ulid.Make().String()
	}
	return r.collection.Create(ctx, id, auditLogDocument{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt.UTC(),
	})
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = defaultAuditPage
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	var startAfter []any
	if !cursor.IsZero() {
		startAfter, err = decodeAuditCursor(cursor)
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, err
		}
	}

	docs, err := r.collection.Query(ctx, func(q firestore.Query) firestore.Query {
		if target := strings.TrimSpace(filter.TargetRef); target != "" {
			q = q.Where("targetRef", "==", target)
		}
		if action := strings.TrimSpace(filter.Action); action != "" {
			q = q.Where("action", "==", action)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	page := domain.CursorPage[domain.AuditLogEntry]{}
	if len(docs) > limit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, err
		}
	}
	page.Items = make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

func decodeAuditCursor(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: audit cursor", pagination.ErrInvalidPageToken)
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID {
		return nil, fmt.Errorf("%w: audit cursor", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return []any{createdAt, id}, nil
}

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	ActorType string         `firestore:"actorType"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Diff      map[string]any `firestore:"diff,omitempty"`
	Severity  string         `firestore:"severity"`
	RequestID string         `firestore:"requestId,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:        id,
		Actor:     d.Actor,
		ActorType: d.ActorType,
		Action:    d.Action,
		TargetRef: d.TargetRef,
		Metadata:  d.Metadata,
		Diff:      d.Diff,
		Severity:  d.Severity,
		RequestID: d.RequestID,
		CreatedAt: d.CreatedAt,
	}
}
