package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// sniffLen is the number of bytes http.DetectContentType considers.
const sniffLen = 512

// VerifyResult contains the results of checking cached entries.
type VerifyResult struct {
	Valid    bool     // true if every checked entry holds image data
	Checked  int      // number of entries read
	NotImage int      // entries whose content is not an image
	Empty    int      // zero-length entries
	Removed  int      // bad entries deleted when removal was requested
	Bad      []Entry  // entries that failed a check
	Errors   []string // detailed messages, one per bad entry
}

// Verify reads the head of every cached entry and checks that it holds image
// data. When remove is set, bad entries are deleted so the next prefetch
// downloads them again.
//
// Bad entries are reported in the VerifyResult, not as errors. An error is
// returned only when the bucket cannot be listed or read, or ctx is done.
func (c *Cache) Verify(ctx context.Context, remove bool) (*VerifyResult, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Valid:  true,
		Errors: make([]string, 0),
	}

	for _, e := range entries {
		problem, err := c.check(ctx, e)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Checked++
		if problem == "" {
			continue
		}

		result.Valid = false
		result.Bad = append(result.Bad, e)
		result.Errors = append(result.Errors, fmt.Sprintf("%s (%s): %s", e.URL, e.Key, problem))
		if e.Size == 0 {
			result.Empty++
		} else {
			result.NotImage++
		}

		if remove {
			if err := c.deleteKey(ctx, e.Key); err != nil && !errors.Is(err, ErrNotFound) {
				return result, err
			}
			result.Removed++
		}
	}

	return result, nil
}

// check returns a description of what is wrong with e, or "" if it is fine.
func (c *Cache) check(ctx context.Context, e Entry) (string, error) {
	if e.Size == 0 {
		return "empty", nil
	}

	n := int64(sniffLen)
	if e.Size < n {
		n = e.Size
	}
	r, err := c.bucket.NewRangeReader(ctx, e.Key, 0, n, nil)
	if err != nil {
		if isNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("imagecache: read %s: %w", e.Key, err)
	}
	defer r.Close()

	head, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("imagecache: read %s: %w", e.Key, err)
	}

	if ct := http.DetectContentType(head); !IsImage(ct) {
		return "content is " + ct, nil
	}
	return "", nil
}

// IsImage reports whether a MIME type names an image.
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}
