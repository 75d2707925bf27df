package streamlink

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// InstanceList is an ordered list of interchangeable endpoints of one protocol family.
type InstanceList []string

// NewInstanceList normalizes endpoints, dropping blanks and trailing slashes while
// keeping their order.
func NewInstanceList(endpoints ...string) InstanceList {
	list := make(InstanceList, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint = trimEndpoint(endpoint); endpoint != "" {
			list = append(list, endpoint)
		}
	}
	return list
}

// Pool tries the same protocol against every instance of an InstanceList in order.
type Pool struct {
	name      string
	instances InstanceList
	bind      func(endpoint string) Strategy
	logger    *zap.Logger
}

// NewPool creates a pool named name over instances. bind returns the adapter for one endpoint.
func NewPool(name string, instances InstanceList, bind func(endpoint string) Strategy, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		name:      name,
		instances: append(InstanceList(nil), instances...),
		bind:      bind,
		logger:    logger,
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Instances returns a copy of the pool's endpoints.
func (p *Pool) Instances() InstanceList {
	return append(InstanceList(nil), p.instances...)
}

// Attempt tries each instance once, in order, and returns the first resolved URL. When
// every instance fails the result aggregates one diagnostic per instance.
func (p *Pool) Attempt(ctx context.Context, req *Request) Result {
	attempts := make([]*Failure, 0, len(p.instances))

	for _, endpoint := range p.instances {
		if ctx.Err() != nil {
			break
		}

		p.logger.Debug("Trying instance",
			zap.String("pool", p.name),
			zap.String("instance", endpoint),
			zap.String("id", req.ID.String()))

		res := p.bind(endpoint).Attempt(ctx, req).from(endpoint)
		if res.OK() {
			p.logger.Info("Instance resolved media",
				zap.String("pool", p.name),
				zap.String("instance", endpoint),
				zap.String("id", req.ID.String()))
			return res
		}

		failure := res.Failure()
		p.logger.Warn("Instance failed",
			zap.String("pool", p.name),
			zap.String("instance", endpoint),
			zap.String("id", req.ID.String()),
			zap.String("kind", string(failure.Kind)),
			zap.String("detail", failure.Detail))
		attempts = append(attempts, failure)
	}

	return failureResult(&Failure{
		Kind:     KindAllInstancesExhausted,
		Detail:   fmt.Sprintf("%d of %d instances failed", len(attempts), len(p.instances)),
		Attempts: attempts,
	})
}
