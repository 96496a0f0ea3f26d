package bus

import (
	"github.com/nats-io/nats.go"

	"github.com/flamerun/flame/internal/flerr"
)

// natsSubscription wraps a NATS subscription to implement the Subscription interface
type natsSubscription struct {
	sub *nats.Subscription
}

// Unsubscribe removes the subscription from the server. Wrapped in the same
// *flerr.Error vocabulary as the rest of this package rather than NATS's raw
// error, so a caller walking Binding Coordinator cleanup failures can use
// flerr.KindOf uniformly regardless of which bus backed the subscription.
func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return flerr.Transportf(err, "unsubscribe from %s", s.sub.Subject)
	}
	return nil
}

// IsValid returns whether the subscription is still active
func (s *natsSubscription) IsValid() bool {
	if s.sub == nil {
		return false
	}
	return s.sub.IsValid()
}

