package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/junctionworks/crossflow/internal/monitoring"
	"github.com/junctionworks/crossflow/internal/timeutil"
	"github.com/junctionworks/crossflow/internal/traffic"
)

// DefaultBroadcastInterval is how often connected clients receive a
// fresh snapshot.
const DefaultBroadcastInterval = time.Second

// SnapshotSource is the slice of the controller the broadcaster needs.
type SnapshotSource interface {
	Snapshot() traffic.Snapshot
}

// Broadcaster samples the controller on a fixed interval and pushes
// the JSON snapshot through the hub.
type Broadcaster struct {
	hub      *Hub
	source   SnapshotSource
	interval time.Duration
	clock    timeutil.Clock
}

func NewBroadcaster(hub *Hub, source SnapshotSource, interval time.Duration, clock timeutil.Clock) *Broadcaster {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Broadcaster{hub: hub, source: source, interval: interval, clock: clock}
}

// Run samples until ctx is cancelled. Ticks with no connected clients
// skip the snapshot entirely.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	monitoring.Logf("[live] broadcaster sampling every %s", b.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if b.hub.ClientCount() == 0 {
				continue
			}
			payload, err := json.Marshal(b.source.Snapshot())
			if err != nil {
				monitoring.Logf("[live] snapshot marshal failed: %v", err)
				continue
			}
			b.hub.Broadcast(payload)
		}
	}
}
