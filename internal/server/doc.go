// Package server hosts the Fiber control surface for the resource cache.
// It assembles the runtime from config (store, upstream client, loader and
// metrics), attaches request-ID and recovery middlewares, and exposes HTTP
// endpoints for loading resources, managing batches, switching modes and
// clearing the cache. Keep exports narrow and accept explicit dependencies.
package server
