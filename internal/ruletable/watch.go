package ruletable

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the table at path whenever the file is written or replaced and hands the
// new table to onChange. Parse failures go to onError and the previous table stays active.
// Watching stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Table), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule watcher: %w", err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				table, err := Load(target)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(table)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("rule watcher: %w", err))
				}
			}
		}
	}()

	// Editors often replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %q: %w", target, err)
	}
	return nil
}
