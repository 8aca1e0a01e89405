package service

import (
	"context"
	"time"
)

// RunExpirySweeper closes expired grants every interval until ctx is done.
// Resolve already hides expired tokens; the sweep moves them to a terminal
// state and writes their audit entries.
func (s *ResetDeviceService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if n > 0 {
				s.log.Info().Int("expired", n).Msg("closed expired reset requests")
			}
		}
	}
}
