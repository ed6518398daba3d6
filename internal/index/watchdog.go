package index

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// watchMemory samples the heap and reclaims the buffer of the running pass
// while the heap is above the limit. The pass then finishes stale and is
// rerun once.
func (s *Scheduler) watchMemory(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.memInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkMemory()
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) checkMemory() bool {
	heap := s.heapAlloc()
	if heap <= s.memLimit {
		return false
	}
	cache := s.active.Load()
	if cache == nil {
		return false
	}
	s.logger.Warn("heap above limit, reclaiming document buffer",
		slog.Uint64("heap_bytes", heap),
		slog.Uint64("limit_bytes", s.memLimit),
		slog.String("cache", cache.Name()))
	cache.Reclaim()
	s.metrics.Reclaimed()
	return true
}
