package querysync

import (
	"time"

	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
)

// Navigator receives the shareable URL for the committed filter state.
type Navigator interface {
	Replace(url string)
}

// Syncer writes committed filter states to a Navigator, collapsing rapid
// successive commits into the last one.
type Syncer struct {
	path      string
	nav       Navigator
	debouncer *Debouncer
	log       *logger.Logger
}

// NewSyncer creates a Syncer that writes URLs under path.
func NewSyncer(path string, delay time.Duration, nav Navigator, log *logger.Logger) *Syncer {
	return &Syncer{
		path:      path,
		nav:       nav,
		debouncer: NewDebouncer(delay),
		log:       log,
	}
}

// OnCommit schedules a URL write for next. It has the filter.Listener signature.
func (s *Syncer) OnCommit(_, next filter.State) {
	target := URL(s.path, next)
	s.debouncer.Schedule(func() {
		s.log.Debug("Writing filter state to URL", map[string]interface{}{
			"url": target,
		})
		s.nav.Replace(target)
	})
}

// Flush writes any pending URL now.
func (s *Syncer) Flush() {
	s.debouncer.Flush()
}

// Stop drops any pending write.
func (s *Syncer) Stop() {
	s.debouncer.Stop()
}
