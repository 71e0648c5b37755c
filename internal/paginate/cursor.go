// Package paginate drives iteration over Jira's paginated search endpoints
// and keeps the job checkpoint in step with the cursor.
package paginate

import (
	"errors"
	"fmt"

	"github.com/h0rv/jex/internal/checkpoint"
)

// Kind selects the cursor model of a paginated endpoint.
type Kind int

const (
	// KindOffset pages by integer row offset (startAt/maxResults/total).
	KindOffset Kind = iota
	// KindToken pages by an opaque token returned with each page (nextPageToken).
	KindToken
)

func (k Kind) String() string {
	if k == KindToken {
		return "token"
	}
	return "offset"
}

// ErrRepeatedToken indicates the remote returned a token it already returned.
var ErrRepeatedToken = errors.New("remote returned a previously seen page token")

// PageInfo is what a fetched page reports about the rest of the result set.
type PageInfo struct {
	Rows      int    // Rows contained in the page
	Total     int    // Total matched rows; negative when the endpoint does not report it
	NextToken string // Token for the next page; empty on the last page
}

// Cursor tracks the position of a job in a paginated result set.
// Downstream stages depend only on this interface, not on the cursor model.
type Cursor interface {
	Kind() Kind
	// Offset is the row offset of the next page (offset cursors only).
	Offset() int
	// Token is the token of the next page; empty for the first page (token cursors only).
	Token() string
	// PageSize is the number of rows requested per page.
	PageSize() int
	// Done reports whether the last page has been consumed.
	Done() bool
	// Advance moves past the page described by info.
	Advance(info PageInfo) error
	// String renders the position for logs.
	String() string

	record(cp *checkpoint.Checkpoint)
}

// NewCursor returns a cursor positioned at the first page.
func NewCursor(kind Kind, pageSize int) Cursor {
	if kind == KindToken {
		return &tokenCursor{pageSize: pageSize, seen: make(map[string]struct{})}
	}
	return &offsetCursor{pageSize: pageSize, total: -1}
}

// restoreCursor rebuilds a cursor from a saved checkpoint.
func restoreCursor(kind Kind, pageSize int, cp *checkpoint.Checkpoint) (Cursor, error) {
	switch kind {
	case KindToken:
		c := NewCursor(kind, pageSize).(*tokenCursor)
		if cp.Iters != nil {
			c.token = *cp.Iters
			c.seen[c.token] = struct{}{}
		}
		c.done = cp.Done
		return c, nil
	default:
		c := NewCursor(kind, pageSize).(*offsetCursor)
		if cp.Iters != nil {
			return nil, fmt.Errorf("checkpoint holds a token cursor, job expects %s", kind)
		}
		if cp.Iter != nil {
			c.offset = *cp.Iter
		}
		c.exhausted = cp.Done
		return c, nil
	}
}

// offsetCursor advances by the page size until the offset reaches the total.
type offsetCursor struct {
	offset    int
	pageSize  int
	total     int
	exhausted bool
}

func (c *offsetCursor) Kind() Kind     { return KindOffset }
func (c *offsetCursor) Offset() int    { return c.offset }
func (c *offsetCursor) Token() string  { return "" }
func (c *offsetCursor) PageSize() int  { return c.pageSize }
func (c *offsetCursor) String() string { return fmt.Sprintf("offset=%d total=%d", c.offset, c.total) }
func (c *offsetCursor) Done() bool     { return c.exhausted || (c.total >= 0 && c.offset >= c.total) }
func (c *offsetCursor) record(cp *checkpoint.Checkpoint) {
	iter := c.offset
	cp.Iter = &iter
	cp.Iters = nil
	cp.Done = c.Done()
}

func (c *offsetCursor) Advance(info PageInfo) error {
	if info.Total >= 0 {
		c.total = info.Total
	}
	c.offset += c.pageSize
	// An empty page ends iteration even when the total was not reported
	if info.Rows == 0 {
		c.exhausted = true
	}
	return nil
}

// tokenCursor follows nextPageToken until the remote stops returning one.
type tokenCursor struct {
	token    string
	pageSize int
	done     bool
	seen     map[string]struct{}
}

func (c *tokenCursor) Kind() Kind     { return KindToken }
func (c *tokenCursor) Offset() int    { return 0 }
func (c *tokenCursor) Token() string  { return c.token }
func (c *tokenCursor) PageSize() int  { return c.pageSize }
func (c *tokenCursor) Done() bool     { return c.done }
func (c *tokenCursor) String() string { return fmt.Sprintf("token=%q", c.token) }
func (c *tokenCursor) record(cp *checkpoint.Checkpoint) {
	token := c.token
	cp.Iters = &token
	cp.Iter = nil
	cp.Done = c.done
}

func (c *tokenCursor) Advance(info PageInfo) error {
	if info.NextToken == "" {
		c.done = true
		return nil
	}
	if _, dup := c.seen[info.NextToken]; dup {
		return fmt.Errorf("%w: %q", ErrRepeatedToken, info.NextToken)
	}
	c.seen[info.NextToken] = struct{}{}
	c.token = info.NextToken
	return nil
}
