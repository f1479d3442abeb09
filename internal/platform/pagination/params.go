// Package pagination parses page parameters and encodes opaque cursor tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 15
	// DefaultMaxPageSize caps pageSize.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params bundles the paging values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
}

// Options control how Parse behaves for a given endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Parse reads pageSize and pageToken. Sizes above the maximum are clamped; non-numeric or negative
// sizes and malformed tokens are rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}

	params := Params{PageSize: def}
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		if size > 0 {
			params.PageSize = size
		}
	}
	if params.PageSize > maxSize {
		params.PageSize = maxSize
	}

	token := strings.TrimSpace(values.Get("pageToken"))
	if token != "" {
		if _, err := DecodeToken(token); err != nil {
			return Params{}, err
		}
	}
	params.PageToken = token
	return params, nil
}

// SliceByKey pages through an ordered in-memory list. The token's cursor holds the key of the last
// item of the previous page; a token whose key is no longer present is rejected with
// ErrInvalidPageToken.
func SliceByKey[T any](items []T, pageSize int, token string, key func(T) string) ([]T, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		return nil, "", err
	}

	start := 0
	if !cursor.IsZero() {
		after, ok := cursor.StartAfter[0].(string)
		if !ok {
			return nil, "", fmt.Errorf("%w: unexpected cursor value", ErrInvalidPageToken)
		}
		start = -1
		for i, item := range items {
			if key(item) == after {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, "", fmt.Errorf("%w: cursor %q not found", ErrInvalidPageToken, after)
		}
	}

	end := start + pageSize
	if end >= len(items) {
		return items[start:], "", nil
	}
	next, err := EncodeToken(Cursor{StartAfter: []any{key(items[end-1])}})
	if err != nil {
		return nil, "", err
	}
	return items[start:end], next, nil
}
