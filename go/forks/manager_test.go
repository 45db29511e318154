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
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/0xsoniclabs/duet/go/duet"
)

// newTestManager wires the manager to the given mock client with a retry
// budget small enough for fast tests.
func newTestManager(client Client) *Manager {
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())
	return NewManager(Config{
		Dial: func(context.Context, string) (Client, error) {
			return client, nil
		},
		Retry: RetryConfig{
			Attempts:     3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
		Logger: logger,
	})
}

func TestManager_CreatePinsLatestBlockWhenNoneGiven(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(1), nil)
	client.EXPECT().BlockNumber(gomock.Any()).Return(uint64(1234), nil)

	manager := newTestManager(client)
	fork, err := manager.Create(context.Background(), "http://example.org", nil)
	require.NoError(err)
	require.Equal(uint64(1234), fork.Block)
	require.Equal(uint64(1), fork.ChainID)
}

func TestManager_CreatePinsRequestedBlock(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(1), nil)
	// no BlockNumber query expected

	manager := newTestManager(client)
	block := uint64(42)
	fork, err := manager.Create(context.Background(), "http://example.org", &block)
	require.NoError(err)
	require.Equal(uint64(42), fork.Block)
}

func TestManager_BackendIsDerivedFromChainID(t *testing.T) {
	tests := map[string]struct {
		chainID uint64
		want    duet.BackendKind
	}{
		"mainnet":           {1, duet.Primary},
		"sonic":             {146, duet.Primary},
		"zk mainnet":        {324, duet.Alternate},
		"zk sepolia":        {300, duet.Alternate},
		"unlisted chain id": {999999, duet.Primary},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			ctrl := gomock.NewController(t)
			client := NewMockClient(ctrl)
			client.EXPECT().ChainID(gomock.Any()).Return(test.chainID, nil)
			client.EXPECT().BlockNumber(gomock.Any()).Return(uint64(1), nil)

			manager := newTestManager(client)
			fork, err := manager.Create(context.Background(), "http://example.org", nil)
			require.NoError(err)
			require.Equal(test.want, fork.Backend)
		})
	}
}

func TestManager_ForkIdsAreMonotonicAndNeverReused(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(1), nil).Times(3)
	client.EXPECT().BlockNumber(gomock.Any()).Return(uint64(1), nil).Times(3)

	manager := newTestManager(client)
	for i := 0; i < 3; i++ {
		fork, err := manager.Create(context.Background(), "http://example.org", nil)
		require.NoError(err)
		require.Equal(ForkID(i), fork.ID)
	}
	require.Len(manager.All(), 3)
}

func TestManager_UnreachableEndpointFailsCreation(t *testing.T) {
	require := require.New(t)
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())
	dials := 0
	manager := NewManager(Config{
		Dial: func(context.Context, string) (Client, error) {
			dials++
			return nil, errors.New("connection refused")
		},
		Retry: RetryConfig{
			Attempts:     3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
		Logger: logger,
	})

	_, err := manager.Create(context.Background(), "http://unreachable", nil)
	var unreachable *duet.RpcUnreachableError
	require.ErrorAs(err, &unreachable)
	require.Equal("http://unreachable", unreachable.Endpoint)
	require.Equal(3, unreachable.Attempts)
	require.Equal(3, dials)
}

func TestManager_TransientFailuresAreRetried(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(0), errors.New("i/o timeout"))
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(1), nil)
	client.EXPECT().BlockNumber(gomock.Any()).Return(uint64(1), nil)

	manager := newTestManager(client)
	fork, err := manager.Create(context.Background(), "http://example.org", nil)
	require.NoError(err)
	require.Equal(uint64(1), fork.ChainID)
}

// serverError mimics an error produced by the remote JSON-RPC server.
type serverError struct{}

func (serverError) Error() string  { return "method not found" }
func (serverError) ErrorCode() int { return -32601 }

func TestManager_ServerErrorsAreNotRetried(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(0), serverError{}).Times(1)

	manager := newTestManager(client)
	_, err := manager.Create(context.Background(), "http://example.org", nil)
	require.ErrorIs(err, serverError{})
	var unreachable *duet.RpcUnreachableError
	require.False(errors.As(err, &unreachable))
}

func TestManager_ContextCancellationAbortsRetrying(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())
	manager := NewManager(Config{
		Dial: func(context.Context, string) (Client, error) {
			return nil, errors.New("connection refused")
		},
		Retry: RetryConfig{
			Attempts:     1000,
			InitialDelay: time.Hour,
			MaxDelay:     time.Hour,
		},
		Logger: logger,
	})

	start := time.Now()
	_, err := manager.Create(ctx, "http://example.org", nil)
	require.ErrorIs(err, context.Canceled)
	require.Less(time.Since(start), time.Second)
}

func TestManager_RemoteStateIsCachedPerFork(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(1), nil)
	client.EXPECT().BlockNumber(gomock.Any()).Return(uint64(10), nil)

	addr := duet.Address{0x01}
	client.EXPECT().Balance(gomock.Any(), addr, uint64(10)).
		Return(duet.NewValue(500), nil).Times(1)

	manager := newTestManager(client)
	fork, err := manager.Create(context.Background(), "http://example.org", nil)
	require.NoError(err)

	for i := 0; i < 3; i++ {
		balance, err := manager.Balance(context.Background(), fork.ID, addr)
		require.NoError(err)
		require.Equal(duet.NewValue(500), balance)
	}
}

func TestManager_RollDropsOnlyTheRolledForksCache(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(1), nil).Times(2)
	client.EXPECT().BlockNumber(gomock.Any()).Return(uint64(10), nil).Times(2)

	addr := duet.Address{0x01}
	// the rolled fork refetches at the new block, the other stays cached
	client.EXPECT().Nonce(gomock.Any(), addr, uint64(10)).Return(uint64(7), nil).Times(2)
	client.EXPECT().Nonce(gomock.Any(), addr, uint64(20)).Return(uint64(9), nil).Times(1)

	manager := newTestManager(client)
	first, err := manager.Create(context.Background(), "http://one.example.org", nil)
	require.NoError(err)
	second, err := manager.Create(context.Background(), "http://two.example.org", nil)
	require.NoError(err)

	for _, fork := range []Fork{first, second} {
		nonce, err := manager.Nonce(context.Background(), fork.ID, addr)
		require.NoError(err)
		require.Equal(uint64(7), nonce)
	}

	require.NoError(manager.Roll(first.ID, 20))

	nonce, err := manager.Nonce(context.Background(), first.ID, addr)
	require.NoError(err)
	require.Equal(uint64(9), nonce)

	nonce, err = manager.Nonce(context.Background(), second.ID, addr)
	require.NoError(err)
	require.Equal(uint64(7), nonce)
}

func TestManager_UnknownForkIsReported(t *testing.T) {
	require := require.New(t)
	manager := newTestManager(nil)

	require.ErrorIs(manager.Roll(ForkID(0), 10), duet.ErrUnknownFork)
	_, err := manager.Balance(context.Background(), ForkID(3), duet.Address{})
	require.ErrorIs(err, duet.ErrUnknownFork)
	_, found := manager.Fork(ForkID(0))
	require.False(found)
}

func TestManager_StorageQueriesAreKeyedBySlot(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	client.EXPECT().ChainID(gomock.Any()).Return(uint64(1), nil)
	client.EXPECT().BlockNumber(gomock.Any()).Return(uint64(10), nil)

	addr := duet.Address{0x01}
	keyA := duet.Key{0x0a}
	keyB := duet.Key{0x0b}
	client.EXPECT().StorageAt(gomock.Any(), addr, keyA, uint64(10)).
		Return(duet.Word{0x01}, nil).Times(1)
	client.EXPECT().StorageAt(gomock.Any(), addr, keyB, uint64(10)).
		Return(duet.Word{0x02}, nil).Times(1)

	manager := newTestManager(client)
	fork, err := manager.Create(context.Background(), "http://example.org", nil)
	require.NoError(err)

	for i := 0; i < 2; i++ {
		a, err := manager.Storage(context.Background(), fork.ID, addr, keyA)
		require.NoError(err)
		require.Equal(duet.Word{0x01}, a)
		b, err := manager.Storage(context.Background(), fork.ID, addr, keyB)
		require.NoError(err)
		require.Equal(duet.Word{0x02}, b)
	}
}
