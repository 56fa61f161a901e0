package farm

import (
	"context"
	"time"
)

// Mobility relocates a worker between locations. The simulation ships an
// in-process implementation that just takes time; a real deployment would
// plug in the hosting runtime's migration call here.
type Mobility interface {
	MoveTo(ctx context.Context, workerID, location string) error
}

// SimMobility models travel as a fixed delay.
type SimMobility struct {
	Travel time.Duration
}

func (m SimMobility) MoveTo(ctx context.Context, workerID, location string) error {
	if m.Travel <= 0 {
		return nil
	}
	t := time.NewTimer(m.Travel)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
