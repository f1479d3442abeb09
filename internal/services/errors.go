package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/variants/internal/repositories"
)

var (
	// ErrVariantGenerationInvalidInput signals malformed commands, page tokens or price payloads.
	ErrVariantGenerationInvalidInput = errors.New("variant generation service: invalid input")
	// ErrVariantGenerationNotFound indicates the product does not exist.
	ErrVariantGenerationNotFound = errors.New("variant generation service: product not found")
	// ErrVariantGenerationConflict indicates a requested combination was materialised concurrently.
	ErrVariantGenerationConflict = errors.New("variant generation service: combination already exists")
	// ErrVariantGenerationUnknownDraft indicates a draft id is not among the product's current drafts.
	ErrVariantGenerationUnknownDraft = errors.New("variant generation service: unknown draft")
	// ErrVariantGenerationUnavailable indicates a backing store is temporarily unavailable.
	ErrVariantGenerationUnavailable = errors.New("variant generation service: unavailable")
)

// PriceInputError reports a rejected price entry. Row is the index of the variant in the request.
type PriceInputError struct {
	Row     int
	Key     string
	Message string
}

func (e *PriceInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field(), e.Message)
}

// Field returns the request path of the offending price.
func (e *PriceInputError) Field() string {
	return PriceFieldPath(e.Row, e.Key)
}

func (e *PriceInputError) Unwrap() error {
	return ErrVariantGenerationInvalidInput
}

// PriceFieldPath names the request field holding the price for key in the given row.
func PriceFieldPath(row int, key string) string {
	return fmt.Sprintf("variants.%d.prices.%s", row, key)
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrVariantGenerationNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrVariantGenerationConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrVariantGenerationUnavailable, err)
		}
	}
	return err
}

// mapReferenceError maps failures loading store, region or preference data. A missing document
// there is reported as unavailable, never as a missing product.
func mapReferenceError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrVariantGenerationUnavailable, err)
	}
	return mapRepositoryError(err)
}
