// Package freshness decides whether a cached copy may be reused. The Oracle
// applies a fixed sequence of rules (caching switch, dynamic content, offline
// gate, missing entry, batch inheritance, HEAD comparison with a tolerance
// window) and keeps no state of its own. A Batch amortizes one HEAD request
// across every resource the caller loads together; the Gate holds the
// offline and caching switches.
package freshness
