package presale

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

func (s *Server) runInALoop(ctx context.Context, name string, interval time.Duration, callback func(ctx context.Context) error) {
	s.stopWg.Add(1)
	ticker := time.NewTicker(interval)

	go func() {
		defer func() {
			ticker.Stop()
			s.stopWg.Done()
		}()
		for {
			select {
			case <-ctx.Done():
				log.Printf("%s loop done by context", name)
				return
			case <-ticker.C:
				if err := callback(ctx); err != nil {
					log.Printf("%s callback failed: %v", name, err)
				}
			}
		}
	}()
}

func (s *Server) pruneSessions(ctx context.Context) error {
	if removed := s.wallets.Prune(); removed > 0 {
		log.Printf("[pruneSessions]: removed %d expired wallet sessions", removed)
	}
	if removed := s.pruneLimiters(s.now()); removed > 0 {
		log.Printf("[pruneSessions]: removed %d idle wallet limiters", removed)
	}
	return nil
}

// Report returns a one-line summary of the raise for periodic logging.
func (s *Server) Report(ctx context.Context) (string, error) {
	p, err := s.progress(ctx)
	if err != nil {
		return "", err
	}
	return formatReport(p, s.settings.Currency), nil
}
