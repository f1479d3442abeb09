package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/variants/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	}, WithDependencyClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.HealthStatusOK, report.Status)
	require.Len(t, report.Checks, 2)
	for name, check := range report.Checks {
		assert.Equal(t, domain.HealthStatusOK, check.Status, name)
		assert.Equal(t, now, check.CheckedAt, name)
	}
	assert.Equal(t, now, report.GeneratedAt)
}

func TestDependencyHealthRepositoryClassifiesFailures(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
	assert.Equal(t, "topic missing", report.Checks["pubsub"].Error)

	repo, err = NewDependencyHealthRepository([]DependencyCheck{
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
		{
			Name:    "firestore",
			Timeout: 10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	require.NoError(t, err)

	report, err = repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusError, report.Status)
	assert.Equal(t, "timeout", report.Checks["firestore"].Detail)
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	_, err := NewDependencyHealthRepository(nil)
	assert.Error(t, err)

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: " ", Check: func(context.Context) error { return nil }}})
	assert.Error(t, err)

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "firestore"}})
	assert.Error(t, err)
}
