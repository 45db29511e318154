// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package forks

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/0xsoniclabs/duet/go/duet"
)

// RetryConfig bounds the retry behavior of remote endpoint interactions.
// The delay between attempts grows exponentially from InitialDelay up to
// MaxDelay.
type RetryConfig struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

const (
	defaultRetryAttempts = 5
	defaultInitialDelay  = 100 * time.Millisecond
	defaultMaxDelay      = 2 * time.Second
)

// withDefaults fills unset fields with the default retry budget.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = defaultRetryAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	return c
}

// withRetries runs the given operation until it succeeds, a permanent error
// occurs, the context is canceled, or the retry budget is exhausted. Budget
// exhaustion is reported as an RpcUnreachableError wrapping the last failure.
func withRetries(ctx context.Context, config RetryConfig, endpoint string, op func(context.Context) error) error {
	var last error
	delay := config.InitialDelay
	for attempt := 0; attempt < config.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !isTransient(last) {
			return last
		}
	}
	return &duet.RpcUnreachableError{Endpoint: endpoint, Attempts: config.Attempts, Err: last}
}

// isTransient reports whether the given failure may resolve itself on a
// later attempt. Context cancellation and errors produced by the remote
// server itself are permanent; connectivity issues are not.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}
