// Package fetch is the only place that talks to resource origins. It issues
// GET requests whose bodies are streamed to the caller and HEAD requests that
// only report Last-Modified. Every request is bounded by the connect and read
// timeouts from config; caller cancellation flows through context.Context and
// aborts in-flight transfers. Errors are reduced to ErrNotFound (the origin
// says the resource is gone) and ErrUnavailable (anything transient) so the
// cache layer can decide whether to fall back to a stale copy.
package fetch
