// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package bridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/inconshreveable/log15"
	"go.uber.org/mock/gomock"
	"pgregory.net/rand"

	"github.com/0xsoniclabs/duet/go/artifact"
	"github.com/0xsoniclabs/duet/go/backend/alternate"
	"github.com/0xsoniclabs/duet/go/backend/primary"
	"github.com/0xsoniclabs/duet/go/duet"
)

var (
	counterID = artifact.ContractID{
		SourcePath:      "src/Counter.sol",
		Name:            "Counter",
		CompilerVersion: "0.8.24",
	}

	// deployed images of the counter for the two machines
	counterPrimaryCode   = artifact.Bytecode("6001600155")
	counterAlternateCode = artifact.Bytecode("0001020304")
)

func newTestStore(t *testing.T, contracts ...artifact.CompiledContract) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(artifact.StoreConfig{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	for _, contract := range contracts {
		if err := store.Put(contract); err != nil {
			t.Fatalf("failed to register %v: %v", contract.ID, err)
		}
	}
	store.Freeze()
	return store
}

func counterContract() artifact.CompiledContract {
	return artifact.CompiledContract{
		ID:                    counterID,
		CreationCode:          "600a" + counterPrimaryCode,
		DeployedCode:          counterPrimaryCode,
		AlternateCreationCode: "0b" + counterAlternateCode,
		AlternateDeployedCode: counterAlternateCode,
	}
}

func newTestBridge(t *testing.T, contracts ...artifact.CompiledContract) (*Bridge, *duet.NonceLedger) {
	t.Helper()
	ledger := duet.NewNonceLedger()
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())
	return New(newTestStore(t, contracts...), ledger, logger), ledger
}

func TestBridge_SameKindSwitchCopiesStateVerbatim(t *testing.T) {
	bridge, ledger := newTestBridge(t)
	from := primary.New()
	to := primary.New()

	addr := duet.Address{0x01}
	code := duet.Code{0xfe, 0xed}
	key := duet.Key{0x02}
	value := duet.Word{0x03}

	from.State().SetBalance(addr, duet.NewValue(42))
	from.State().SetCode(addr, code)
	from.State().SetStorage(addr, key, value)
	ledger.Mark(addr, 7, 0)

	if err := bridge.SyncOnSwitch(from, to, []duet.Address{addr}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	got := to.ReadAccount(addr)
	if want := duet.NewValue(42); got.Balance != want {
		t.Errorf("wrong balance, wanted %v, got %v", want, got.Balance)
	}
	if got.Nonce != 7 {
		t.Errorf("wrong nonce, wanted 7, got %d", got.Nonce)
	}
	if string(got.Code) != string(code) {
		t.Errorf("wrong code, wanted %x, got %x", code, got.Code)
	}
	if got.Storage[key] != value {
		t.Errorf("wrong storage, wanted %v, got %v", value, got.Storage[key])
	}
}

func TestBridge_CrossKindSwitchReDerivesTrackedCode(t *testing.T) {
	bridge, _ := newTestBridge(t, counterContract())
	from := primary.New()
	to := alternate.New()

	addr := duet.Address{0x01}
	primaryImage, err := counterPrimaryCode.Bytes()
	if err != nil {
		t.Fatalf("invalid fixture: %v", err)
	}
	from.State().SetCode(addr, primaryImage)
	bridge.BindContract(addr, counterID, nil)

	if err := bridge.SyncOnSwitch(from, to, []duet.Address{addr}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	want, err := counterAlternateCode.Bytes()
	if err != nil {
		t.Fatalf("invalid fixture: %v", err)
	}
	if got := to.State().GetCode(addr); string(got) != string(want) {
		t.Errorf("code was not re-derived for the target machine, wanted %x, got %x", want, got)
	}
}

func TestBridge_ContractsWithoutStorageLayoutCrossBackends(t *testing.T) {
	// libraries and interfaces carry no storage layout, which must not
	// keep their code from being re-derived for the target machine
	lib := artifact.CompiledContract{
		ID: artifact.ContractID{
			SourcePath:      "src/Lib.sol",
			Name:            "Lib",
			CompilerVersion: "0.8.24",
		},
		CreationCode:          "6001",
		DeployedCode:          "01",
		AlternateCreationCode: "0002",
		AlternateDeployedCode: "02",
	}
	bridge, _ := newTestBridge(t, lib)
	from := primary.New()
	to := alternate.New()

	addr := duet.Address{0x01}
	image, err := lib.DeployedCode.Bytes()
	if err != nil {
		t.Fatalf("invalid fixture: %v", err)
	}
	from.State().SetCode(addr, image)
	bridge.BindContract(addr, lib.ID, nil)

	if err := bridge.SyncOnSwitch(from, to, []duet.Address{addr}); err != nil {
		t.Fatalf("sync of a layout-free contract failed: %v", err)
	}
	want, err := lib.AlternateDeployedCode.Bytes()
	if err != nil {
		t.Fatalf("invalid fixture: %v", err)
	}
	if got := to.State().GetCode(addr); string(got) != string(want) {
		t.Errorf("wrong code on target, wanted %x, got %x", want, got)
	}
}

func TestBridge_CrossKindSwitchRejectsUntrackedCode(t *testing.T) {
	bridge, _ := newTestBridge(t)
	from := primary.New()
	to := alternate.New()

	addr := duet.Address{0x01}
	from.State().SetCode(addr, duet.Code{0xde, 0xad})

	err := bridge.SyncOnSwitch(from, to, []duet.Address{addr})
	var incompatible *duet.CrossBackendBytecodeIncompatibleError
	if !errors.As(err, &incompatible) {
		t.Fatalf("expected incompatibility error, got %v", err)
	}
	if incompatible.Address != addr {
		t.Errorf("error reports wrong address: %v", incompatible.Address)
	}
	if incompatible.From != duet.Primary || incompatible.To != duet.Alternate {
		t.Errorf("error reports wrong direction: %v -> %v", incompatible.From, incompatible.To)
	}
}

func TestBridge_CrossKindSwitchRejectsMissingTargetImage(t *testing.T) {
	primaryOnly := counterContract()
	primaryOnly.AlternateCreationCode = ""
	primaryOnly.AlternateDeployedCode = ""
	bridge, _ := newTestBridge(t, primaryOnly)
	from := primary.New()
	to := alternate.New()

	addr := duet.Address{0x01}
	image, _ := counterPrimaryCode.Bytes()
	from.State().SetCode(addr, image)
	bridge.BindContract(addr, counterID, nil)

	err := bridge.SyncOnSwitch(from, to, []duet.Address{addr})
	var incompatible *duet.CrossBackendBytecodeIncompatibleError
	if !errors.As(err, &incompatible) {
		t.Fatalf("expected incompatibility error, got %v", err)
	}
}

func TestBridge_CodeFreeAccountsCrossWithoutBinding(t *testing.T) {
	bridge, _ := newTestBridge(t)
	from := primary.New()
	to := alternate.New()

	addr := duet.Address{0x01}
	from.State().SetBalance(addr, duet.NewValue(100))

	if err := bridge.SyncOnSwitch(from, to, []duet.Address{addr}); err != nil {
		t.Fatalf("sync of a plain account failed: %v", err)
	}
	if got := to.State().GetBalance(addr); got != duet.NewValue(100) {
		t.Errorf("wrong balance after sync, got %v", got)
	}
}

func TestBridge_TargetNonceIsTakenFromLedger(t *testing.T) {
	bridge, ledger := newTestBridge(t)
	from := primary.New()
	to := primary.New()

	addr := duet.Address{0x01}
	// the backend-visible nonce may lag behind the ledger
	from.State().SetNonce(addr, 2)
	ledger.Mark(addr, 5, 1)

	if err := bridge.SyncOnSwitch(from, to, []duet.Address{addr}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if got := to.State().GetNonce(addr); got != 5 {
		t.Errorf("wrong nonce, wanted the ledger's 5, got %d", got)
	}
}

func TestBridge_StaleTargetStorageIsCleared(t *testing.T) {
	bridge, _ := newTestBridge(t)
	from := primary.New()
	to := primary.New()

	addr := duet.Address{0x01}
	kept := duet.Key{0x01}
	stale := duet.Key{0x02}
	from.State().SetStorage(addr, kept, duet.Word{0x0a})
	to.State().SetStorage(addr, stale, duet.Word{0x0b})

	if err := bridge.SyncOnSwitch(from, to, []duet.Address{addr}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if got := to.State().GetStorage(addr, stale); got != (duet.Word{}) {
		t.Errorf("stale slot survived the sync: %v", got)
	}
	if got := to.State().GetStorage(addr, kept); got != (duet.Word{0x0a}) {
		t.Errorf("wrong value in kept slot: %v", got)
	}
}

func TestBridge_FailedValidationLeavesTargetUntouched(t *testing.T) {
	bridge, _ := newTestBridge(t)
	from := primary.New()
	to := alternate.New()

	good := duet.Address{0x01}
	bad := duet.Address{0x02}
	from.State().SetBalance(good, duet.NewValue(10))
	from.State().SetCode(bad, duet.Code{0xde, 0xad})

	if err := bridge.SyncOnSwitch(from, to, []duet.Address{good, bad}); err == nil {
		t.Fatal("expected sync to fail")
	}
	if to.State().AccountExists(good) {
		t.Error("partial sync: account written before validation completed")
	}
}

func TestBridge_RoundTripPreservesPersistentState(t *testing.T) {
	bridge, ledger := newTestBridge(t, counterContract())
	machines := map[duet.BackendKind]duet.Backend{
		duet.Primary:   primary.New(),
		duet.Alternate: alternate.New(),
	}

	rnd := rand.New(12345)
	addrs := make([]duet.Address, 10)
	want := map[duet.Address]duet.AccountState{}
	for i := range addrs {
		var addr duet.Address
		rnd.Read(addr[:])
		addrs[i] = addr

		state := machines[duet.Primary].State()
		balance := duet.NewValue(rnd.Uint64())
		state.SetBalance(addr, balance)
		storage := map[duet.Key]duet.Word{}
		for j := 0; j < 1+rnd.Intn(5); j++ {
			var key duet.Key
			var value duet.Word
			rnd.Read(key[:])
			rnd.Read(value[1:]) // keep non-zero unlikely to collide with the cleared value
			value[0] = 1
			state.SetStorage(addr, key, value)
			storage[key] = value
		}
		ledger.Mark(addr, rnd.Uint64n(1000), 0)

		var code duet.Code
		if i%2 == 0 {
			// every other account is a tracked contract
			code, _ = counterPrimaryCode.Bytes()
			state.SetCode(addr, code)
			bridge.BindContract(addr, counterID, nil)
		}
		want[addr] = duet.AccountState{
			Balance: balance,
			Nonce:   ledger.TransactionNonce(addr),
			Code:    code,
			Storage: storage,
		}
	}

	path := []duet.BackendKind{duet.Primary, duet.Alternate, duet.Primary}
	for i := 0; i+1 < len(path); i++ {
		from, to := machines[path[i]], machines[path[i+1]]
		if err := bridge.SyncOnSwitch(from, to, addrs); err != nil {
			t.Fatalf("switch %v -> %v failed: %v", path[i], path[i+1], err)
		}
	}

	final := machines[duet.Primary]
	for addr, expected := range want {
		got := final.ReadAccount(addr)
		if got.Balance != expected.Balance {
			t.Errorf("account %v: wrong balance after round trip, wanted %v, got %v",
				addr, expected.Balance, got.Balance)
		}
		if got.Nonce != expected.Nonce {
			t.Errorf("account %v: wrong nonce after round trip, wanted %d, got %d",
				addr, expected.Nonce, got.Nonce)
		}
		if string(got.Code) != string(expected.Code) {
			t.Errorf("account %v: wrong code after round trip", addr)
		}
		for key, value := range expected.Storage {
			if got.Storage[key] != value {
				t.Errorf("account %v: wrong value in slot %v, wanted %v, got %v",
					addr, key, value, got.Storage[key])
			}
		}
		if len(got.Storage) != len(expected.Storage) {
			t.Errorf("account %v: unexpected extra storage after round trip", addr)
		}
	}
}

func TestBridge_BindingCanBeQueried(t *testing.T) {
	bridge, _ := newTestBridge(t, counterContract())
	addr := duet.Address{0x01}

	if _, found := bridge.Binding(addr); found {
		t.Fatal("unbound address reported a binding")
	}
	bridge.BindContract(addr, counterID, nil)
	id, found := bridge.Binding(addr)
	if !found || id != counterID {
		t.Fatalf("wrong binding, got %v (found: %t)", id, found)
	}
}

func TestBridge_VerificationFailureIsReported(t *testing.T) {
	bridge, _ := newTestBridge(t)
	from := primary.New()

	addr := duet.Address{0x01}
	from.State().SetBalance(addr, duet.NewValue(10))

	// a target that accepts writes but drops them breaks the bridge invariant
	ctrl := gomock.NewController(t)
	state := duet.NewMockBackendState(ctrl)
	state.EXPECT().SetBalance(addr, duet.NewValue(10))
	state.EXPECT().SetNonce(addr, uint64(0))
	state.EXPECT().SetCode(addr, gomock.Any())
	state.EXPECT().ForEachStorage(addr, gomock.Any())
	to := duet.NewMockBackend(ctrl)
	to.EXPECT().Kind().Return(duet.Primary).AnyTimes()
	to.EXPECT().State().Return(state)
	to.EXPECT().ReadAccount(addr).Return(duet.AccountState{})

	err := bridge.SyncOnSwitch(from, to, []duet.Address{addr})
	var invariant *duet.BridgeInvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("expected a bridge invariant error, got %v", err)
	}
	if invariant.Address != addr || invariant.Field != "balance" {
		t.Errorf("unexpected report: %v", invariant)
	}
}

func ExampleBridge_SyncOnSwitch() {
	store, _ := artifact.NewStore(artifact.StoreConfig{})
	store.Freeze()
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())
	bridge := New(store, duet.NewNonceLedger(), logger)

	from, to := primary.New(), alternate.New()
	addr := duet.Address{0x42}
	from.State().SetBalance(addr, duet.NewValue(1000))

	if err := bridge.SyncOnSwitch(from, to, []duet.Address{addr}); err != nil {
		fmt.Println("sync failed:", err)
		return
	}
	fmt.Println("balance on target:", to.State().GetBalance(addr))
	// Output: balance on target: 1000
}
