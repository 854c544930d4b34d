package resilience

import "time"

// Policy configures a Guard for one remote dependency.
type Policy struct {
	// Scope prefixes breaker names, e.g. "doip" or "catalogue".
	Scope string
	// Resends is how many extra attempts a Transient failure gets. Registry
	// and catalogue calls keep zero.
	Resends     int
	ResendPause time.Duration
	Breaker     BreakerPolicy
}

type BreakerPolicy struct {
	Disabled      bool
	MinRequests   uint32
	FailureRatio  float64
	Cooldown      time.Duration
	HalfOpenCalls uint32
}

// RemotePolicy guards an HTTP dependency: single attempt, breaker on.
func RemotePolicy(scope string) Policy {
	return Policy{Scope: scope}.normalize()
}

// BrokerPolicy lets a publish ride out a short reconnect.
func BrokerPolicy(scope string) Policy {
	p := RemotePolicy(scope)
	p.Resends = 2
	p.ResendPause = 250 * time.Millisecond
	return p
}

func (p Policy) normalize() Policy {
	out := p
	if out.Resends < 0 {
		out.Resends = 0
	}
	if out.Resends > 0 && out.ResendPause <= 0 {
		out.ResendPause = 250 * time.Millisecond
	}
	if out.Breaker.MinRequests == 0 {
		out.Breaker.MinRequests = 10
	}
	if out.Breaker.FailureRatio <= 0 || out.Breaker.FailureRatio > 1 {
		out.Breaker.FailureRatio = 0.5
	}
	if out.Breaker.Cooldown <= 0 {
		out.Breaker.Cooldown = 30 * time.Second
	}
	if out.Breaker.HalfOpenCalls == 0 {
		out.Breaker.HalfOpenCalls = 2
	}
	return out
}
