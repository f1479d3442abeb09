package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot together with its id and server timestamps.
type Document[D any] struct {
	ID         string
	Data       D
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder customises a collection query before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection gives typed access to one collection whose documents decode into D.
type Collection[D any] struct {
	provider *Provider
	name     string
}

// NewCollection binds D to the named collection.
func NewCollection[D any](provider *Provider, name string) *Collection[D] {
	return &Collection[D]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[D]) Name() string { return c.name }

// Ref returns the collection reference.
func (c *Collection[D]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: collection is not initialised")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

// Doc returns the reference of the document with the given id.
func (c *Collection[D]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("firestore: %s document id is required", c.name)
	}
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return ref.Doc(id), nil
}

// Get fetches and decodes one document.
func (c *Collection[D]) Get(ctx context.Context, id string) (Document[D], error) {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return Document[D]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[D]{}, WrapError(c.op("get"), err)
	}
	return Decode[D](snap)
}

// Query runs the built query and decodes every result.
func (c *Collection[D]) Query(ctx context.Context, build QueryBuilder) ([]Document[D], error) {
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	query := ref.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[D]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := Decode[D](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Create writes a new document and fails with a conflict when the id is taken.
func (c *Collection[D]) Create(ctx context.Context, id string, value D) error {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, value); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

func (c *Collection[D]) op(action string) string {
	return c.name + "." + action
}

// Decode converts a snapshot into a Document.
func Decode[D any](snap *firestore.DocumentSnapshot) (Document[D], error) {
	var data D
	if err := snap.DataTo(&data); err != nil {
		return Document[D]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[D]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}
