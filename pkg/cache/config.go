package cache

import "time"

type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	maxSize         int
	cleanupInterval time.Duration
}

// WithMemoryMaxSize bounds the number of entries; the least recently used
// entry is evicted first.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *memoryConfig) {
		if size > 0 {
			c.maxSize = size
		}
	}
}

// WithMemoryCleanup sets how often expired entries are swept.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		if interval > 0 {
			c.cleanupInterval = interval
		}
	}
}

type LayeredOption func(*layeredConfig)

type layeredConfig struct {
	l1Size int
	l1TTL  time.Duration
}

func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *layeredConfig) {
		if size > 0 {
			c.l1Size = size
		}
	}
}

// WithLayeredMemoryTTL caps how long an entry lives in the in-process layer,
// which bounds how stale a replica can read after another one wrote.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *layeredConfig) {
		if ttl > 0 {
			c.l1TTL = ttl
		}
	}
}
