package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
)

// Params bundles the paging and filter values extracted from a query string.
type Params struct {
	PageSize  int
	PageToken string
	// Filters maps a filter name to its accepted values, e.g. status=Shipped,Delivered.
	Filters map[string][]string
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// AllowedFilters maps a query parameter to the values it accepts. A nil slice accepts any value.
	AllowedFilters map[string][]string
}

// Parse reads page_size, page_token and the allowed filter parameters. Oversized page sizes are
// clamped rather than rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 || size > maxSize {
		size = min(DefaultPageSize, maxSize)
	}

	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Params{}, fmt.Errorf("%w: must be a positive integer", ErrInvalidPageSize)
		}
		size = min(n, maxSize)
	}

	params := Params{PageSize: size, PageToken: strings.TrimSpace(values.Get("page_token"))}
	if params.PageToken != "" {
		if _, err := DecodeToken(params.PageToken, ""); err != nil {
			return Params{}, err
		}
	}

	for name, allowed := range opts.AllowedFilters {
		raw := values[name]
		if len(raw) == 0 {
			continue
		}
		for _, joined := range raw {
			for _, value := range strings.Split(joined, ",") {
				value = strings.TrimSpace(value)
				if value == "" {
					continue
				}
				canonical, ok := matchAllowed(value, allowed)
				if !ok {
					return Params{}, fmt.Errorf("%w: %s=%q is not supported", ErrInvalidFilter, name, value)
				}
				if params.Filters == nil {
					params.Filters = make(map[string][]string)
				}
				params.Filters[name] = append(params.Filters[name], canonical)
			}
		}
	}
	return params, nil
}

// matchAllowed compares case-insensitively and returns the canonical spelling.
func matchAllowed(value string, allowed []string) (string, bool) {
	if allowed == nil {
		return value, true
	}
	for _, candidate := range allowed {
		if strings.EqualFold(candidate, value) {
			return candidate, true
		}
	}
	return "", false
}
