// Package imagecache stores downloaded images in cloud storage.
//
// A [Cache] wraps a gocloud.dev/blob bucket, so the same code works against
// memory, the local filesystem, S3 or GCS depending on the URL the bucket was
// opened with. Each image is stored under a key derived from the MD5 of its
// source URL, together with a small set of blob metadata describing where it
// came from.
//
// # Freshness
//
// Entries older than the configured maximum age ([WithMaxAge], default 60
// days) are treated as misses by [Cache.Get] and [Cache.Exists]. They stay in
// the bucket until [Cache.Purge] removes them.
//
// # Eviction
//
// [Cache.Purge] runs two passes. It first deletes expired entries. If the
// remaining entries still exceed the size limit ([WithMaxSize], default
// 500 MiB), it deletes the least recently written entries until the cache is
// at most half the limit.
//
// # Storage Layout
//
//	{bucket}/{prefix}{md5(url)}
//
// with blob metadata:
//
//	source_url  the URL the image was fetched from
//	etag        the origin's ETag, when it sent one
//	cached_at   RFC 3339 timestamp of the write
package imagecache
