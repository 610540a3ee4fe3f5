package notify

import (
	"context"

	"github.com/junctionworks/crossflow/internal/monitoring"
	"github.com/junctionworks/crossflow/internal/traffic"
)

// Notifier forwards controller events onto their NATS subjects.
type Notifier struct {
	pub    *Publisher
	events <-chan traffic.Event
}

func NewNotifier(pub *Publisher, events <-chan traffic.Event) *Notifier {
	return &Notifier{pub: pub, events: events}
}

// Run forwards events until ctx is cancelled or the stream closes.
// Broker failures are logged and skipped.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-n.events:
			if !ok {
				return nil
			}
			if err := n.pub.Publish(subjectFor(ev.Kind), ev); err != nil {
				monitoring.Logf("[notify] failed to publish %s event: %v", ev.Kind, err)
			}
		}
	}
}

func subjectFor(kind traffic.EventKind) string {
	switch kind {
	case traffic.EventVehicleEntered, traffic.EventVehicleExited:
		return SubjectTransits
	case traffic.EventSignalChanged:
		return SubjectSignals
	case traffic.EventCalibrated:
		return SubjectCalibrations
	}
	return SubjectTransits
}
