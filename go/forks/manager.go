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
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/inconshreveable/log15"

	"github.com/0xsoniclabs/duet/go/duet"
)

// ForkID identifies one fork within a manager. Ids are assigned in
// creation order and are never reused.
type ForkID int

// Fork is the public metadata of a pinned remote chain.
type Fork struct {
	ID       ForkID
	Endpoint string
	ChainID  uint64
	Block    uint64
	Backend  duet.BackendKind
}

// alternateChains lists the chain ids whose contracts run on the alternate
// backend. The required backend is looked up here, never inferred from the
// endpoint or the fetched code.
var alternateChains = map[uint64]bool{
	324: true, // zk mainnet
	300: true, // zk sepolia testnet
	280: true, // zk goerli testnet (historic)
}

// backendForChain maps a remote chain id to the backend its contracts
// require.
func backendForChain(chainID uint64) duet.BackendKind {
	if alternateChains[chainID] {
		return duet.Alternate
	}
	return duet.Primary
}

// Config customizes a fork manager. The zero value selects the production
// JSON-RPC client, the default retry budget, a default cache capacity, and
// the root logger.
type Config struct {
	// Dial opens a connection to an endpoint. Defaults to Dial.
	Dial func(ctx context.Context, endpoint string) (Client, error)

	// Retry bounds all remote interactions.
	Retry RetryConfig

	// CacheCapacity is the number of remote state entries cached per fork.
	CacheCapacity int

	// Logger receives fork lifecycle events.
	Logger log15.Logger
}

const defaultCacheCapacity = 4096

// Manager tracks the forks of one execution context. Forks are created,
// pinned, and rolled, but never destroyed during a run. A Manager is bound
// to a single execution context and is not safe for concurrent use.
type Manager struct {
	dial          func(ctx context.Context, endpoint string) (Client, error)
	retry         RetryConfig
	cacheCapacity int
	log           log15.Logger
	forks         []*fork
}

// fork combines the public metadata with the connection and the private
// remote state cache.
type fork struct {
	Fork
	client Client
	cache  *lru.Cache[remoteKey, any]
}

// remoteKey addresses one cached remote state entry.
type remoteKey struct {
	query queryKind
	addr  duet.Address
	slot  duet.Key
}

type queryKind byte

const (
	queryBalance queryKind = iota
	queryNonce
	queryCode
	queryStorage
)

// NewManager creates a fork manager with the given configuration.
func NewManager(config Config) *Manager {
	if config.Dial == nil {
		config.Dial = Dial
	}
	if config.CacheCapacity <= 0 {
		config.CacheCapacity = defaultCacheCapacity
	}
	if config.Logger == nil {
		config.Logger = log15.Root()
	}
	return &Manager{
		dial:          config.Dial,
		retry:         config.Retry.withDefaults(),
		cacheCapacity: config.CacheCapacity,
		log:           config.Logger.New("module", "forks"),
	}
}

// Create connects to the given endpoint and pins a fork at the given block.
// A nil block pins the endpoint's latest block, resolved once at creation.
// The endpoint is contacted immediately; an unreachable endpoint fails the
// creation after the retry budget instead of surfacing later during state
// access.
func (m *Manager) Create(ctx context.Context, endpoint string, block *uint64) (Fork, error) {
	var client Client
	err := withRetries(ctx, m.retry, endpoint, func(ctx context.Context) error {
		var err error
		client, err = m.dial(ctx, endpoint)
		return err
	})
	if err != nil {
		return Fork{}, err
	}

	var chainID uint64
	err = withRetries(ctx, m.retry, endpoint, func(ctx context.Context) error {
		var err error
		chainID, err = client.ChainID(ctx)
		return err
	})
	if err != nil {
		return Fork{}, err
	}

	pinned := uint64(0)
	if block != nil {
		pinned = *block
	} else {
		err = withRetries(ctx, m.retry, endpoint, func(ctx context.Context) error {
			var err error
			pinned, err = client.BlockNumber(ctx)
			return err
		})
		if err != nil {
			return Fork{}, err
		}
	}

	cache, err := lru.New[remoteKey, any](m.cacheCapacity)
	if err != nil {
		return Fork{}, fmt.Errorf("creating remote state cache: %w", err)
	}
	created := &fork{
		Fork: Fork{
			ID:       ForkID(len(m.forks)),
			Endpoint: endpoint,
			ChainID:  chainID,
			Block:    pinned,
			Backend:  backendForChain(chainID),
		},
		client: client,
		cache:  cache,
	}
	m.forks = append(m.forks, created)
	m.log.Info("fork created", "id", created.ID, "endpoint", endpoint,
		"chain", chainID, "block", pinned, "backend", created.Backend)
	return created.Fork, nil
}

// Fork returns the metadata of the given fork.
func (m *Manager) Fork(id ForkID) (Fork, bool) {
	if int(id) < 0 || int(id) >= len(m.forks) {
		return Fork{}, false
	}
	return m.forks[id].Fork, true
}

// All lists the metadata of all forks in creation order.
func (m *Manager) All() []Fork {
	all := make([]Fork, len(m.forks))
	for i, f := range m.forks {
		all[i] = f.Fork
	}
	return all
}

// Roll re-pins the given fork to another block and discards its remote
// state cache. Other forks keep their pins and caches.
func (m *Manager) Roll(id ForkID, block uint64) error {
	if int(id) < 0 || int(id) >= len(m.forks) {
		return duet.ErrUnknownFork
	}
	f := m.forks[id]
	f.Block = block
	f.cache.Purge()
	m.log.Info("fork rolled", "id", id, "block", block)
	return nil
}

// Balance returns the balance of the given account at the fork's pinned
// block, served from the fork's cache when possible.
func (m *Manager) Balance(ctx context.Context, id ForkID, addr duet.Address) (duet.Value, error) {
	return fetch(ctx, m, id, remoteKey{query: queryBalance, addr: addr},
		func(ctx context.Context, f *fork) (duet.Value, error) {
			return f.client.Balance(ctx, addr, f.Block)
		})
}

// Nonce returns the transaction count of the given account at the fork's
// pinned block.
func (m *Manager) Nonce(ctx context.Context, id ForkID, addr duet.Address) (uint64, error) {
	return fetch(ctx, m, id, remoteKey{query: queryNonce, addr: addr},
		func(ctx context.Context, f *fork) (uint64, error) {
			return f.client.Nonce(ctx, addr, f.Block)
		})
}

// Code returns the deployed code of the given account at the fork's pinned
// block.
func (m *Manager) Code(ctx context.Context, id ForkID, addr duet.Address) (duet.Code, error) {
	return fetch(ctx, m, id, remoteKey{query: queryCode, addr: addr},
		func(ctx context.Context, f *fork) (duet.Code, error) {
			return f.client.Code(ctx, addr, f.Block)
		})
}

// Storage returns the value of one storage slot at the fork's pinned block.
func (m *Manager) Storage(ctx context.Context, id ForkID, addr duet.Address, key duet.Key) (duet.Word, error) {
	return fetch(ctx, m, id, remoteKey{query: queryStorage, addr: addr, slot: key},
		func(ctx context.Context, f *fork) (duet.Word, error) {
			return f.client.StorageAt(ctx, addr, key, f.Block)
		})
}

// fetch serves one remote state query from the fork's cache, falling back
// to the endpoint with the manager's retry budget on a miss.
func fetch[T any](ctx context.Context, m *Manager, id ForkID, key remoteKey, load func(context.Context, *fork) (T, error)) (T, error) {
	var zero T
	if int(id) < 0 || int(id) >= len(m.forks) {
		return zero, duet.ErrUnknownFork
	}
	f := m.forks[id]
	if cached, found := f.cache.Get(key); found {
		return cached.(T), nil
	}
	var value T
	err := withRetries(ctx, m.retry, f.Endpoint, func(ctx context.Context) error {
		var err error
		value, err = load(ctx, f)
		return err
	})
	if err != nil {
		return zero, err
	}
	f.cache.Add(key, value)
	return value, nil
}
