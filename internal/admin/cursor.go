package admin

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidCursor is returned by DecodeCursor for anything that is not a
// cursor this server minted.
var ErrInvalidCursor = errors.New("admin: invalid cursor")

// Cursor is the opaque pagination token for admin listings: the (created_at,
// id) pair of the last row returned, so pagination stays stable when many
// rows share a timestamp — ordering is always (created_at, id), never
// created_at alone.
type Cursor struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"` // milliseconds since epoch
}

// EncodeCursor renders a cursor as base64url JSON.
func EncodeCursor(id string, createdAt time.Time) string {
	raw, _ := json.Marshal(Cursor{ID: id, CreatedAt: createdAt.UnixMilli()})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor previously produced by EncodeCursor. Unknown
// fields are rejected rather than ignored, so a forged or truncated cursor
// reads as invalid_request, not as an arbitrary list offset.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	var c Cursor
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil || c.ID == "" {
		return Cursor{}, ErrInvalidCursor
	}
	return c, nil
}

// Time returns the cursor's created_at as a time.Time.
func (c Cursor) Time() time.Time { return time.UnixMilli(c.CreatedAt) }

// Less orders cursors by (created_at, id), the tie-stable ordering every
// admin listing uses.
func (c Cursor) Less(other Cursor) bool {
	if c.CreatedAt != other.CreatedAt {
		return c.CreatedAt < other.CreatedAt
	}
	return c.ID < other.ID
}
