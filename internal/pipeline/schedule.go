package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Schedule runs RunAll immediately and then every interval until ctx is
// cancelled. Runs never overlap; a tick that fires during a run is skipped.
func (r *Runner) Schedule(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", every)
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	// running is held for the length of a run so shutdown can wait for it.
	var running sync.Mutex
	_, err := s.Every(every).Do(func() {
		running.Lock()
		defer running.Unlock()
		if ctx.Err() != nil {
			return
		}

		log.Println("scheduler: running pipeline")
		if err := r.RunAll(ctx); err != nil {
			log.Printf("scheduler: pipeline failed: %v", err)
			return
		}
		log.Println("scheduler: pipeline completed")
	})
	if err != nil {
		return fmt.Errorf("schedule pipeline: %w", err)
	}

	s.StartAsync()
	log.Printf("scheduler: pipeline every %s", every)

	<-ctx.Done()
	s.Stop()
	running.Lock()
	running.Unlock()
	log.Println("scheduler: stopped")
	return nil
}
