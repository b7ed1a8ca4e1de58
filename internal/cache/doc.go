// Package cache keeps one shared archive.Handle per absolute archive path for
// the lifetime of the process. A single mutex guards the map and is held around
// look-up-or-insert, including the cold open itself, so two concurrent cold
// misses for the same path can never open the archive twice. Cold opens are
// rare next to hits; per-key locks are not worth their bookkeeping here.
// Entry reads happen on the returned handle, outside the lock.
package cache
