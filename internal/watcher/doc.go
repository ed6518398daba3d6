// Package watcher turns file system changes below registered roots into
// indexing work.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced to coalesce rapid changes from IDEs and git
// operations, filtered against .gitignore patterns, and then enqueued on a
// Sink as file lists or deletes for the scheduler.
//
// Usage:
//
//	w, err := watcher.New(reg, sched, watcher.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	for _, root := range reg.Roots() {
//	    if err := w.Add(root); err != nil {
//	        return err
//	    }
//	}
//	return w.Run(ctx)
package watcher
