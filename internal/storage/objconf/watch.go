package objconf

import (
	"context"

	"github.com/yndnr/hamesh-go/internal/infra/confloader"
)

// Watch reloads the store whenever a file changes under its directory
// and calls onChange with the affected object paths. It returns when
// ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(paths []string)) error {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	if err := w.WatchTree(s.dir); err != nil {
		_ = w.Stop()
		return err
	}
	w.OnChange(func(file string) {
		changed, err := s.Load()
		if err != nil {
			s.logger.Error("reload object configurations", "trigger", file, "error", err)
			return
		}
		if len(changed) > 0 {
			s.logger.Info("object configurations changed", "paths", changed)
			onChange(changed)
		}
	})
	w.StartAsync()
	<-ctx.Done()
	return w.Stop()
}
