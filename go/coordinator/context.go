// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package coordinator orchestrates the execution of one test context across
// the two virtual machine backends. It owns which backend is active, routes
// transactions and cheatcodes to it, moves persistent state across backend
// switches through the state bridge, and manages forks and snapshots.
//
// A Context is strictly sequential; parallelism lives above it. Many
// contexts may run concurrently, sharing nothing but a frozen artifact
// store.
package coordinator

import (
	"context"
	"fmt"

	"github.com/inconshreveable/log15"

	"github.com/0xsoniclabs/duet/go/artifact"
	"github.com/0xsoniclabs/duet/go/bridge"
	"github.com/0xsoniclabs/duet/go/duet"
	"github.com/0xsoniclabs/duet/go/forks"
	"github.com/0xsoniclabs/duet/go/linker"
)

// CheatcodeHandler implements one named cheatcode for one backend. The
// handler runs against the context it was dispatched on.
type CheatcodeHandler func(c *Context, args []duet.Data) (duet.Data, error)

// Config contains the parameters for creating an execution context.
type Config struct {
	// Artifacts is the shared, frozen artifact store of the compilation
	// run.
	Artifacts *artifact.Store

	// Sender is the account all transactions of this context originate
	// from.
	Sender duet.Address

	// GasLimit is the gas limit applied to all transactions.
	GasLimit duet.Gas

	// Forks manages the remote forks of this context. Optional; contexts
	// without fork usage may leave it nil.
	Forks *forks.Manager

	// Logger receives context lifecycle events. Defaults to the root
	// logger.
	Logger log15.Logger
}

const defaultGasLimit = duet.Gas(30_000_000)

// contextSnapshot couples the backend snapshot with the ledger snapshot
// and the epoch the capture happened in.
type contextSnapshot struct {
	backend duet.Snapshot
	ledger  duet.NonceLedgerSnapshot
	epoch   uint64
}

// Context is one logical test execution context. It is not safe for
// concurrent use.
type Context struct {
	artifacts  *artifact.Store
	ledger     *duet.NonceLedger
	bridge     *bridge.Bridge
	forks      *forks.Manager
	backends   map[duet.BackendKind]duet.Backend
	active     duet.BackendKind
	activeFork *forks.ForkID
	persistent map[duet.Address]struct{}
	cheatcodes map[duet.BackendKind]map[string]CheatcodeHandler

	// epoch counts backend switches; snapshots taken in an older epoch
	// are invalid since cross-backend revert is not well-defined
	epoch        uint64
	snapshots    map[duet.Snapshot]contextSnapshot
	nextSnapshot duet.Snapshot

	sender   duet.Address
	gasLimit duet.Gas
	log      log15.Logger
}

// NewContext creates an execution context starting on the primary backend.
// One backend instance per kind is obtained from the backend registry, so
// the backend implementations must have been linked into the binary.
func NewContext(config Config) (*Context, error) {
	if config.Artifacts == nil {
		return nil, fmt.Errorf("an artifact store is required")
	}
	if config.GasLimit <= 0 {
		config.GasLimit = defaultGasLimit
	}
	if config.Logger == nil {
		config.Logger = log15.Root()
	}
	logger := config.Logger.New("module", "coordinator")

	backends := map[duet.BackendKind]duet.Backend{}
	for _, kind := range duet.AllBackendKinds() {
		backend, err := duet.NewBackend(kind)
		if err != nil {
			return nil, fmt.Errorf("creating %v backend: %w", kind, err)
		}
		backends[kind] = backend
	}

	ledger := duet.NewNonceLedger()
	cheatcodes := map[duet.BackendKind]map[string]CheatcodeHandler{}
	for _, kind := range duet.AllBackendKinds() {
		cheatcodes[kind] = map[string]CheatcodeHandler{}
	}
	return &Context{
		artifacts:  config.Artifacts,
		ledger:     ledger,
		bridge:     bridge.New(config.Artifacts, ledger, logger),
		forks:      config.Forks,
		backends:   backends,
		active:     duet.Primary,
		persistent: map[duet.Address]struct{}{},
		cheatcodes: cheatcodes,
		snapshots:  map[duet.Snapshot]contextSnapshot{},
		sender:     config.Sender,
		gasLimit:   config.GasLimit,
		log:        logger,
	}, nil
}

// Backend returns the kind of the currently active backend.
func (c *Context) Backend() duet.BackendKind {
	return c.active
}

// Sender returns the account transactions of this context originate from.
func (c *Context) Sender() duet.Address {
	return c.sender
}

// Ledger grants access to the nonce ledger of this context. The ledger is
// the single source of truth for nonces; backend-local nonce values are
// derived from it, never the other way around.
func (c *Context) Ledger() *duet.NonceLedger {
	return c.ledger
}

// ReadAccount reads the given account through the active backend.
func (c *Context) ReadAccount(addr duet.Address) duet.AccountState {
	return c.backends[c.active].ReadAccount(addr)
}

// State grants direct access to the active backend's account state. It is
// the entry point for cheatcode handlers manipulating accounts.
func (c *Context) State() duet.BackendState {
	return c.backends[c.active].State()
}

// SetBackend switches the active backend. The state of all persistent
// addresses is moved through the bridge before the switch takes effect;
// if the synchronization fails, the active backend remains unchanged.
// A completed switch invalidates all existing snapshots.
func (c *Context) SetBackend(kind duet.BackendKind) error {
	if kind == c.active {
		return nil
	}
	from, to := c.backends[c.active], c.backends[kind]
	if to == nil {
		return fmt.Errorf("no backend of kind %v available", kind)
	}
	if err := c.bridge.SyncOnSwitch(from, to, c.persistentList()); err != nil {
		return err
	}
	c.log.Debug("backend switched", "from", c.active, "to", kind,
		"persistent", len(c.persistent))
	c.active = kind
	c.epoch++
	return nil
}

// Deploy creates a contract from the identified compiled artifact on the
// active backend. The creation code is linked with the given libraries and
// the image matching the active backend is selected. The deployed address
// is bound to the artifact so that a later backend switch can re-derive
// its code for the other machine.
func (c *Context) Deploy(id artifact.ContractID, libraries map[string]duet.Address, args duet.Data, value duet.Value) (duet.Address, error) {
	view, err := c.artifacts.LinkedView(id, libraries)
	if err != nil {
		return duet.Address{}, err
	}
	creation, available := view.CreationCodeFor(c.active)
	if !available {
		return duet.Address{}, fmt.Errorf("%v provides no creation code for the %v backend", id, c.active)
	}
	code := make(duet.Code, 0, len(creation)+len(args))
	code = append(code, creation...)
	code = append(code, args...)

	result, err := c.backends[c.active].Execute(duet.Transaction{
		Kind:     duet.Deploy,
		Sender:   c.sender,
		Nonce:    c.ledger.DeploymentNonce(c.sender),
		Code:     code,
		Value:    value,
		GasLimit: c.gasLimit,
	})
	if err != nil {
		return duet.Address{}, err
	}
	if !result.Success || result.CreatedContract == nil {
		return duet.Address{}, fmt.Errorf("deployment of %v reverted", id)
	}
	c.ledger.IncrementDeployment(c.sender)
	created := *result.CreatedContract
	// created accounts start with a transaction nonce of one; recording it
	// here keeps the ledger authoritative for bridge synchronization
	c.ledger.Mark(created, 1, 0)
	c.bridge.BindContract(created, id, libraries)
	c.log.Debug("contract deployed", "contract", id, "address", created,
		"backend", c.active)
	return created, nil
}

// DeployProgram deploys the identified contract together with all not yet
// deployed libraries it depends on, in dependency order. Planned library
// addresses are verified against the actual deployment results.
func (c *Context) DeployProgram(id artifact.ContractID, predeployed map[string]duet.Address) (duet.Address, error) {
	resolved, err := linker.Resolve(c.artifacts, predeployed, linker.Config{
		Deployer:   c.sender,
		StartNonce: c.ledger.DeploymentNonce(c.sender),
	})
	if err != nil {
		return duet.Address{}, err
	}
	for _, planned := range resolved.Plan {
		created, err := c.Deploy(planned.ID, resolved.Libraries, nil, duet.Value{})
		if err != nil {
			return duet.Address{}, fmt.Errorf("deploying library %v: %w", planned.ID, err)
		}
		if created != planned.Address {
			return duet.Address{}, fmt.Errorf(
				"library %v deployed at %v instead of the planned %v",
				planned.ID, created, planned.Address)
		}
	}
	return c.Deploy(id, resolved.Libraries, nil, duet.Value{})
}

// Call sends a state-changing transaction to the given recipient on the
// active backend. A processed call, reverted or not, is reported through
// the result; only a failure to process it at all is an error.
func (c *Context) Call(recipient duet.Address, input duet.Data, value duet.Value) (duet.ExecutionResult, error) {
	result, err := c.backends[c.active].Execute(duet.Transaction{
		Kind:      duet.Call,
		Sender:    c.sender,
		Recipient: &recipient,
		Nonce:     c.ledger.TransactionNonce(c.sender),
		Input:     input,
		Value:     value,
		GasLimit:  c.gasLimit,
	})
	if err != nil {
		return duet.ExecutionResult{}, err
	}
	if result.Success {
		c.ledger.IncrementTransaction(c.sender)
	}
	return result, nil
}

// StaticCall sends a read-only call to the given recipient on the active
// backend. Static calls never change any nonce.
func (c *Context) StaticCall(recipient duet.Address, input duet.Data) (duet.ExecutionResult, error) {
	return c.backends[c.active].Execute(duet.Transaction{
		Kind:      duet.StaticCall,
		Sender:    c.sender,
		Recipient: &recipient,
		Input:     input,
		GasLimit:  c.gasLimit,
	})
}

// RegisterCheatcode installs a handler for the named cheatcode on the
// given backend. Cheatcode support differs between the two machines, so
// handlers are registered per backend kind.
func (c *Context) RegisterCheatcode(kind duet.BackendKind, name string, handler CheatcodeHandler) {
	c.cheatcodes[kind][name] = handler
}

// Cheatcode dispatches the named cheatcode to the handler registered for
// the active backend. A cheatcode without a handler on the active backend
// fails with an UnsupportedInBackendError; it is never silently skipped or
// rerouted to the other backend.
func (c *Context) Cheatcode(name string, args []duet.Data) (duet.Data, error) {
	handler, supported := c.cheatcodes[c.active][name]
	if !supported {
		return nil, &duet.UnsupportedInBackendError{Operation: name, Backend: c.active}
	}
	return handler(c, args)
}

// CreateFork pins a fork of the chain behind the given endpoint. A nil
// block pins the endpoint's latest block.
func (c *Context) CreateFork(ctx context.Context, endpoint string, block *uint64) (forks.ForkID, error) {
	if c.forks == nil {
		return 0, fmt.Errorf("context has no fork manager configured")
	}
	fork, err := c.forks.Create(ctx, endpoint, block)
	if err != nil {
		return 0, err
	}
	return fork.ID, nil
}

// SelectFork makes the given fork the active one. If the fork's chain
// requires a different backend than the active one, the backend is
// switched first, including the bridge synchronization of persistent
// state; a failing switch leaves both the active fork and the active
// backend unchanged.
func (c *Context) SelectFork(id forks.ForkID) error {
	if c.forks == nil {
		return fmt.Errorf("context has no fork manager configured")
	}
	fork, found := c.forks.Fork(id)
	if !found {
		return duet.ErrUnknownFork
	}
	if err := c.SetBackend(fork.Backend); err != nil {
		return err
	}
	c.activeFork = &id
	c.log.Debug("fork selected", "id", id, "backend", fork.Backend)
	return nil
}

// ActiveFork returns the currently selected fork, if any.
func (c *Context) ActiveFork() (forks.ForkID, bool) {
	if c.activeFork == nil {
		return 0, false
	}
	return *c.activeFork, true
}

// RollFork re-pins the given fork to another block. Other forks are not
// affected.
func (c *Context) RollFork(id forks.ForkID, block uint64) error {
	if c.forks == nil {
		return fmt.Errorf("context has no fork manager configured")
	}
	return c.forks.Roll(id, block)
}

// MakePersistent marks the given address to retain its logical state
// across backend switches.
func (c *Context) MakePersistent(addr duet.Address) {
	c.persistent[addr] = struct{}{}
}

// RevokePersistent removes the persistence mark from the given address.
func (c *Context) RevokePersistent(addr duet.Address) {
	delete(c.persistent, addr)
}

// IsPersistent reports whether the given address is marked persistent.
func (c *Context) IsPersistent(addr duet.Address) bool {
	_, found := c.persistent[addr]
	return found
}

// Snapshot captures the full mutable state of the active backend together
// with the nonce ledger. Snapshots are backend-local; a later backend
// switch invalidates them.
func (c *Context) Snapshot() duet.Snapshot {
	id := c.nextSnapshot
	c.nextSnapshot++
	c.snapshots[id] = contextSnapshot{
		backend: c.backends[c.active].CreateSnapshot(),
		ledger:  c.ledger.Snapshot(),
		epoch:   c.epoch,
	}
	return id
}

// RevertTo restores a snapshot taken earlier in the same backend epoch.
// Snapshots captured before a backend switch, or invalidated by an earlier
// revert, fail with ErrStaleSnapshot. A successful revert invalidates all
// snapshots taken after the restored one.
func (c *Context) RevertTo(id duet.Snapshot) error {
	record, found := c.snapshots[id]
	if !found || record.epoch != c.epoch {
		return duet.ErrStaleSnapshot
	}
	if err := c.backends[c.active].RestoreSnapshot(record.backend); err != nil {
		return fmt.Errorf("restoring backend state: %w", err)
	}
	c.ledger.Restore(record.ledger)
	for other := range c.snapshots {
		if other > id {
			delete(c.snapshots, other)
		}
	}
	return nil
}

func (c *Context) persistentList() []duet.Address {
	list := make([]duet.Address, 0, len(c.persistent))
	for addr := range c.persistent {
		list = append(list, addr)
	}
	return list
}
