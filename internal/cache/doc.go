// Package cache provides an LRU cache for immutable file blocks.
//
// Blob-backed directories read segment files in fixed-size blocks and keep
// recently used blocks here. Cached bytes are charged to a
// resource.Controller when one is supplied, so the cache shares the
// process-wide memory limit.
package cache
