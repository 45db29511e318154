// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package linker resolves library references of compiled contracts. Given
// a set of compiled contracts and addresses of already deployed libraries,
// it determines which libraries still need to be deployed, computes a
// valid deployment order for them, assigns them deterministic addresses,
// and produces linked views for all contracts.
package linker

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xsoniclabs/duet/go/artifact"
	"github.com/0xsoniclabs/duet/go/duet"
)

// Config contains the parameters of a link operation.
type Config struct {
	// Deployer is the account the planned library deployments are
	// attributed to. Deployment addresses are derived from it.
	Deployer duet.Address
	// StartNonce is the deployment nonce of the deployer at the time the
	// plan is executed. Planned deployments consume consecutive nonces.
	StartNonce uint64
}

// Deployment is one planned library deployment.
type Deployment struct {
	ID      artifact.ContractID
	Address duet.Address
	Nonce   uint64
}

// Result summarizes a completed link operation.
type Result struct {
	// Libraries maps fully qualified library names to their addresses,
	// covering both predeployed and planned libraries.
	Libraries map[string]duet.Address
	// Plan lists the libraries to deploy, in a valid order.
	Plan []Deployment
	// Linked holds the linked views of all contracts in the store.
	Linked map[artifact.ContractID]artifact.LinkedView
}

// Resolve links all contracts of the given store. Libraries referenced by
// any contract but absent from the predeployed mapping are planned for
// deployment at deterministic CREATE-style addresses derived from the
// configured deployer, identical across backends. References to libraries
// unknown to the store are reported with an UnresolvedLibraryError; cyclic
// library dependencies, which cannot occur for valid programs, are still
// detected and reported with a CyclicLibraryDependencyError.
func Resolve(store *artifact.Store, predeployed map[string]duet.Address, config Config) (Result, error) {
	ids := store.All()

	// index known contracts by the placeholder of their qualified name
	byPlaceholder := map[string]artifact.ContractID{}
	for _, id := range ids {
		byPlaceholder[artifact.PlaceholderOf(id.FullyQualifiedName())] = id
	}

	// collect the library references of each contract
	references := map[artifact.ContractID][]artifact.ContractID{}
	var unresolved []string
	for _, id := range ids {
		contract, _ := store.Contract(id)
		placeholders := contract.CreationCode.Placeholders()
		placeholders = append(placeholders, contract.DeployedCode.Placeholders()...)
		seen := map[artifact.ContractID]bool{}
		for _, placeholder := range placeholders {
			library, known := byPlaceholder[placeholder]
			if !known {
				unresolved = append(unresolved, placeholder)
				continue
			}
			if _, deployed := predeployed[library.FullyQualifiedName()]; deployed {
				continue
			}
			if !seen[library] {
				seen[library] = true
				references[id] = append(references[id], library)
			}
		}
	}
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return Result{}, &duet.UnresolvedLibraryError{Missing: unresolved}
	}

	order, err := deploymentOrder(references)
	if err != nil {
		return Result{}, err
	}

	libraries := make(map[string]duet.Address, len(predeployed)+len(order))
	for name, address := range predeployed {
		libraries[name] = address
	}

	nonce := config.StartNonce
	plan := make([]Deployment, 0, len(order))
	for _, id := range order {
		address := createAddress(config.Deployer, nonce)
		libraries[id.FullyQualifiedName()] = address
		plan = append(plan, Deployment{ID: id, Address: address, Nonce: nonce})
		nonce++
	}

	linked := make(map[artifact.ContractID]artifact.LinkedView, len(ids))
	for _, id := range ids {
		view, err := store.LinkedView(id, libraries)
		if err != nil {
			return Result{}, fmt.Errorf("linking %v: %w", id, err)
		}
		linked[id] = view
	}

	return Result{Libraries: libraries, Plan: plan, Linked: linked}, nil
}

// deploymentOrder topologically sorts the libraries that need deployment.
// Only contracts that appear as a reference target are part of the plan;
// plain contracts merely contribute ordering constraints.
func deploymentOrder(references map[artifact.ContractID][]artifact.ContractID) ([]artifact.ContractID, error) {
	needed := map[artifact.ContractID]bool{}
	for _, targets := range references {
		for _, target := range targets {
			needed[target] = true
		}
	}

	const (
		white = iota // unvisited
		grey         // on the current DFS path
		black        // done
	)
	color := map[artifact.ContractID]int{}
	var order []artifact.ContractID
	var stack []artifact.ContractID

	var visit func(id artifact.ContractID) *duet.CyclicLibraryDependencyError
	visit = func(id artifact.ContractID) *duet.CyclicLibraryDependencyError {
		color[id] = grey
		stack = append(stack, id)
		targets := append([]artifact.ContractID(nil), references[id]...)
		sort.Slice(targets, func(i, j int) bool {
			return targets[i].String() < targets[j].String()
		})
		for _, target := range targets {
			switch color[target] {
			case white:
				if err := visit(target); err != nil {
					return err
				}
			case grey:
				return cycleError(stack, target)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		if needed[id] {
			order = append(order, id)
		}
		return nil
	}

	roots := make([]artifact.ContractID, 0, len(references))
	for id := range references {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].String() < roots[j].String()
	})
	for _, root := range roots {
		if color[root] == white {
			if err := visit(root); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// cycleError extracts the cycle from the DFS stack.
func cycleError(stack []artifact.ContractID, target artifact.ContractID) *duet.CyclicLibraryDependencyError {
	var cycle []string
	recording := false
	for _, id := range stack {
		if id == target {
			recording = true
		}
		if recording {
			cycle = append(cycle, id.FullyQualifiedName())
		}
	}
	cycle = append(cycle, target.FullyQualifiedName())
	return &duet.CyclicLibraryDependencyError{Cycle: cycle}
}

// createAddress computes the address a CREATE deployment by the given
// sender and nonce results in. The computation matches the one performed
// by both backends, making planned addresses valid on either.
func createAddress(sender duet.Address, nonce uint64) duet.Address {
	return duet.Address(crypto.CreateAddress(common.Address(sender), nonce))
}
