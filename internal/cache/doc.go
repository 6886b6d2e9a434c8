// Package cache owns the on-disk mirror of remote resources. It translates a
// resource URL into <StoragePath>/<host>[@<port>]/<decoded-path> (and back, for
// diagnostics), decides which URLs may be cached at all, and exposes a Store
// whose writes go through a temp file + rename so a failed or cancelled
// download never replaces a valid entry. Entry mtimes carry the origin's
// Last-Modified value; the freshness package compares against them.
package cache
