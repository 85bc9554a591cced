package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"gocloud.dev/blob"
)

// PurgeStats reports what Purge removed.
type PurgeStats struct {
	Scanned        int   // entries examined
	Expired        int   // entries removed for age
	Evicted        int   // entries removed for size
	FreedBytes     int64 // bytes removed by both passes
	RemainingCount int
	RemainingBytes int64
}

// List returns every entry in the cache, expired ones included, ordered from
// oldest to newest.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	iter := c.bucket.List(&blob.ListOptions{Prefix: c.opts.Prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("imagecache: list: %w", err)
		}
		if obj.IsDir {
			continue
		}
		e, err := c.statKey(ctx, obj.Key)
		if errors.Is(err, ErrNotFound) {
			// Removed between listing and stat.
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CachedAt.Before(entries[j].CachedAt)
	})
	return entries, nil
}

// Size returns the number of entries and their total size in bytes.
func (c *Cache) Size(ctx context.Context) (count int, bytes int64, err error) {
	iter := c.bucket.List(&blob.ListOptions{Prefix: c.opts.Prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return count, bytes, nil
		}
		if err != nil {
			return 0, 0, fmt.Errorf("imagecache: list: %w", err)
		}
		if obj.IsDir {
			continue
		}
		count++
		bytes += obj.Size
	}
}

// Purge removes expired entries, then evicts the oldest entries until the
// cache is at most half of its size limit if the limit is exceeded.
func (c *Cache) Purge(ctx context.Context) (PurgeStats, error) {
	var stats PurgeStats

	entries, err := c.List(ctx)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(entries)

	live := entries[:0]
	for _, e := range entries {
		if !e.Expired {
			live = append(live, e)
			continue
		}
		if err := c.deleteKey(ctx, e.Key); err != nil && !errors.Is(err, ErrNotFound) {
			return stats, err
		}
		stats.Expired++
		stats.FreedBytes += e.Size
	}

	var total int64
	for _, e := range live {
		total += e.Size
	}

	if c.opts.MaxSize > 0 && total > c.opts.MaxSize {
		target := c.opts.MaxSize / 2
		// live is ordered oldest first.
		for len(live) > 0 && total > target {
			e := live[0]
			if err := c.deleteKey(ctx, e.Key); err != nil && !errors.Is(err, ErrNotFound) {
				return stats, err
			}
			live = live[1:]
			total -= e.Size
			stats.Evicted++
			stats.FreedBytes += e.Size
		}
	}

	stats.RemainingCount = len(live)
	stats.RemainingBytes = total
	return stats, nil
}
