package nats

import (
	"context"
	"errors"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

var transientNATSErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
}

func classifyNATSError(err error) resilience.Verdict {
	switch {
	case err == nil:
		return resilience.Answer
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Answer
	case resilience.IsCircuitOpen(err):
		return resilience.Transient
	}
	for _, transient := range transientNATSErrors {
		if errors.Is(err, transient) {
			return resilience.Transient
		}
	}
	return resilience.Fault
}

// wrapTemporaryIfNeeded tags broker outages so schedulers can treat them as soft.
func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyNATSError(err) == resilience.Transient {
		return domain.WrapError(domain.ErrTemporary, "schedule sync task", err)
	}
	return err
}
