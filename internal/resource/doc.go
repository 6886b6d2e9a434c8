// Package resource is the public face of the cache: Loader.Load turns a URL
// into a local file path, consulting the freshness oracle, the offline gate
// and the caller's batch before deciding to reuse, refetch or fall back to a
// stale copy. Concurrent loads of the same URL share one download.
package resource
