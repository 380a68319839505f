// Package resource governs the resources shared by an index writer's
// background work and its block caches.
//
//   - Memory: tracked and optionally limited (non-blocking, fail-fast)
//   - Concurrency: bounded merge slots
//   - IO: token bucket throttling of merge writes
//
// Memory tracking uses a weighted semaphore for hard limits and an atomic
// counter for usage:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})
//	if err := rc.AcquireMemory(4096); err != nil {
//	    // ErrMemoryLimitExceeded: skip caching
//	}
//	defer rc.ReleaseMemory(4096)
//
// Merges take a background slot and write through a RateLimitedWriter:
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//	w := resource.NewRateLimitedWriter(ctx, out, rc)
//
// All methods are safe for concurrent use and treat a nil Controller as
// unlimited.
package resource
