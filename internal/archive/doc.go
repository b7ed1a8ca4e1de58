// Package archive opens zip archives read-only and serves their entries by
// archive-relative name. A Handle keeps the central directory in memory, so
// entry lookups are map hits and entry reads seek straight into the file.
// Handles are safe for concurrent use; the cache package shares one Handle per
// archive path across all requests.
package archive
