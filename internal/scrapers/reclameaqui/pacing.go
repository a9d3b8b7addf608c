package reclameaqui

import (
	"context"
	"fmt"
	"sync"

	"reclameaqui-pipeline/internal/components/chrono"

	"golang.org/x/time/rate"
)

type guard struct {
	mutex   sync.Mutex
	limiter *rate.Limiter
}

// pacer keeps one guard per endpoint so calls to the same endpoint are at
// least its floor apart, while different endpoints never wait on each other.
type pacer struct {
	clock  chrono.API
	mutex  sync.Mutex
	guards map[string]*guard
}

func newPacer(clock chrono.API) *pacer {
	return &pacer{clock: clock, guards: map[string]*guard{}}
}

func (p *pacer) guard(spec EndpointSpec) *guard {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	g, ok := p.guards[spec.Name]
	if !ok {
		limit := rate.Inf
		if spec.PacingFloor > 0 {
			limit = rate.Every(spec.PacingFloor)
		}
		g = &guard{limiter: rate.NewLimiter(limit, 1)}
		p.guards[spec.Name] = g
	}
	return g
}

// wait blocks until spec may be called again.
func (p *pacer) wait(ctx context.Context, spec EndpointSpec) error {
	g := p.guard(spec)
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := p.clock.Now()
	reservation := g.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("pacing %s: reservation refused", spec.Name)
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	err := p.clock.Sleep(ctx, delay)
	if err != nil {
		reservation.CancelAt(p.clock.Now())
		return err
	}
	return nil
}
