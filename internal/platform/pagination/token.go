package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Cursor marks the last order of a page in (createdAt desc, id desc) order. Scope ties the token
// to the filter that produced it.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
	Scope     string    `json:"s,omitempty"`
}

// Scope fingerprints a list filter. Order of parts does not matter, so "shipped,delivered" and
// "delivered,shipped" share tokens.
func Scope(parts ...string) string {
	normalised := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			normalised = append(normalised, p)
		}
	}
	if len(normalised) == 0 {
		return ""
	}
	slices.Sort(normalised)
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.Join(normalised, "\x00")))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}

// EncodeToken serialises the cursor into a URL-safe page token. A cursor without an id encodes
// to "" (no further pages).
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.ID == "" {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken for the same scope. An empty token yields a
// zero cursor; a token minted under another filter is rejected.
func DecodeToken(token, scope string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	switch {
	case cursor.ID == "":
		return Cursor{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	case cursor.Scope != scope:
		return Cursor{}, fmt.Errorf("%w: token belongs to a different filter", ErrInvalidPageToken)
	}
	return cursor, nil
}
