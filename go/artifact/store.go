// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package artifact

import (
	"encoding/hex"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/sha3"

	"github.com/0xsoniclabs/duet/go/duet"
)

// StoreConfig contains the configuration options for an artifact store.
type StoreConfig struct {
	// ViewCacheCapacity is the maximum number of views retained per view
	// kind. If set to 0, a default capacity is used. If negative, the
	// initialization fails.
	ViewCacheCapacity int
}

const defaultViewCacheCapacity = 1 << 12

// Store owns the canonical compiled-contract records of one compilation
// run and derives consumer views from them on demand.
//
// A store follows a construct-then-freeze life cycle: records are added
// during initialization, before any execution context starts, and the
// store is frozen afterwards. A frozen store is safe for concurrent
// readers without further synchronization discipline; the view caches are
// internally synchronized.
type Store struct {
	contracts map[ContractID]*CompiledContract
	frozen    bool

	// Views are cached per (identity, view kind); linked views are
	// additionally keyed by a digest of the library mapping they were
	// resolved with. The raw records are never modified in the process.
	linked    *lru.Cache[linkedViewKey, LinkedView]
	annotated *lru.Cache[ContractID, AnnotatedView]
}

type linkedViewKey struct {
	id        ContractID
	libDigest duet.Hash
}

// NewStore creates an empty artifact store with the provided configuration.
func NewStore(config StoreConfig) (*Store, error) {
	capacity := config.ViewCacheCapacity
	if capacity == 0 {
		capacity = defaultViewCacheCapacity
	}
	if capacity < 0 {
		return nil, fmt.Errorf("invalid view cache capacity: %d", config.ViewCacheCapacity)
	}
	linked, err := lru.New[linkedViewKey, LinkedView](capacity)
	if err != nil {
		return nil, err
	}
	annotated, err := lru.New[ContractID, AnnotatedView](capacity)
	if err != nil {
		return nil, err
	}
	return &Store{
		contracts: map[ContractID]*CompiledContract{},
		linked:    linked,
		annotated: annotated,
	}, nil
}

// Put adds a compiled contract to the store. Re-adding a record with
// identical content is a no-op; a record whose identity is already bound
// to materially different content is rejected with a
// DuplicateArtifactError, since it indicates an inconsistent compilation
// run. Put fails with ErrStoreFrozen once the store is frozen.
func (s *Store) Put(contract CompiledContract) error {
	if s.frozen {
		return duet.ErrStoreFrozen
	}
	if existing, found := s.contracts[contract.ID]; found {
		if existing.ContentEquals(&contract) {
			return nil
		}
		return &duet.DuplicateArtifactError{
			SourcePath:      contract.ID.SourcePath,
			Name:            contract.ID.Name,
			CompilerVersion: contract.ID.CompilerVersion,
		}
	}
	s.contracts[contract.ID] = contract.clone()
	return nil
}

// Freeze ends the construction phase. After freezing, the record set is
// immutable and the store may be shared across concurrent contexts.
func (s *Store) Freeze() {
	s.frozen = true
}

// Contract returns the raw record for the given identity.
func (s *Store) Contract(id ContractID) (*CompiledContract, bool) {
	contract, found := s.contracts[id]
	if !found {
		return nil, false
	}
	return contract.clone(), true
}

// All returns the identities of all stored contracts in deterministic
// order.
func (s *Store) All() []ContractID {
	res := make([]ContractID, 0, len(s.contracts))
	for id := range s.contracts {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].String() < res[j].String()
	})
	return res
}

// LinkedView resolves the contract's library placeholders against the
// given mapping from fully qualified library names to addresses and
// returns the deployable projection. An incomplete mapping is reported
// with an UnresolvedLibraryError naming every unresolved reference.
func (s *Store) LinkedView(id ContractID, libraries map[string]duet.Address) (LinkedView, error) {
	key := linkedViewKey{id: id, libDigest: digestOfLibraries(libraries)}
	if view, found := s.linked.Get(key); found {
		return view.clone(), nil
	}

	contract, found := s.contracts[id]
	if !found {
		return LinkedView{}, fmt.Errorf("%w: %v", duet.ErrUnknownArtifact, id)
	}

	replacements := make(map[string]duet.Address, len(libraries))
	for name, address := range libraries {
		replacements[PlaceholderOf(name)] = address
	}

	// both machines' images share the same library references
	creation, missingCreation := contract.CreationCode.Link(replacements)
	deployed, missingDeployed := contract.DeployedCode.Link(replacements)
	altCreation, missingAltCreation := contract.AlternateCreationCode.Link(replacements)
	altDeployed, missingAltDeployed := contract.AlternateDeployedCode.Link(replacements)
	unresolved := append(missingCreation, missingDeployed...)
	unresolved = append(unresolved, missingAltCreation...)
	unresolved = append(unresolved, missingAltDeployed...)
	if missing := s.describePlaceholders(unresolved); len(missing) > 0 {
		return LinkedView{}, &duet.UnresolvedLibraryError{Missing: missing}
	}

	view := LinkedView{ID: id}
	var err error
	if view.CreationCode, err = creation.Bytes(); err != nil {
		return LinkedView{}, fmt.Errorf("linking creation code of %v: %w", id, err)
	}
	if view.DeployedCode, err = deployed.Bytes(); err != nil {
		return LinkedView{}, fmt.Errorf("linking deployed code of %v: %w", id, err)
	}
	if view.AlternateCreationCode, err = altCreation.Bytes(); err != nil {
		return LinkedView{}, fmt.Errorf("linking alternate creation code of %v: %w", id, err)
	}
	if view.AlternateDeployedCode, err = altDeployed.Bytes(); err != nil {
		return LinkedView{}, fmt.Errorf("linking alternate deployed code of %v: %w", id, err)
	}

	s.linked.Add(key, view)
	// callers receive their own copies of the code slices; the cached view
	// stays untouched by later mutations
	return view.clone(), nil
}

// AnnotatedView returns the debugging projection of the contract: its
// unlinked code and the storage layout as produced by the compiler. It
// fails with a MissingStorageLayoutError if the compiler did not emit a
// layout for this contract.
func (s *Store) AnnotatedView(id ContractID) (AnnotatedView, error) {
	if view, found := s.annotated.Get(id); found {
		view.Layout = view.Layout.Clone()
		return view, nil
	}

	contract, found := s.contracts[id]
	if !found {
		return AnnotatedView{}, fmt.Errorf("%w: %v", duet.ErrUnknownArtifact, id)
	}
	if contract.StorageLayout == nil {
		return AnnotatedView{}, &duet.MissingStorageLayoutError{
			SourcePath: id.SourcePath,
			Name:       id.Name,
		}
	}

	view := AnnotatedView{
		ID:           id,
		CreationCode: contract.CreationCode,
		DeployedCode: contract.DeployedCode,
		Layout:       contract.StorageLayout,
		SourceMap:    contract.SourceMap,
	}
	s.annotated.Add(id, view)
	// callers receive their own copy of the layout; the cached view keeps
	// referring to the immutable record
	view.Layout = view.Layout.Clone()
	return view, nil
}

// CombinedView returns both the linked code and the storage layout in one
// structure. Its result is equal to requesting the two partial views
// separately and joining them; no ordering of view requests can make
// either part unavailable.
func (s *Store) CombinedView(id ContractID, libraries map[string]duet.Address) (CombinedView, error) {
	linked, err := s.LinkedView(id, libraries)
	if err != nil {
		return CombinedView{}, err
	}
	annotated, err := s.AnnotatedView(id)
	if err != nil {
		return CombinedView{}, err
	}
	return CombinedView{LinkedView: linked, Layout: annotated.Layout}, nil
}

// describePlaceholders maps raw placeholders back to fully qualified
// library names where the library is known to this store, to produce
// actionable error messages. Unknown placeholders are reported verbatim.
func (s *Store) describePlaceholders(placeholders []string) []string {
	if len(placeholders) == 0 {
		return nil
	}
	names := map[string]string{}
	for id := range s.contracts {
		name := id.FullyQualifiedName()
		names[PlaceholderOf(name)] = name
	}
	seen := map[string]bool{}
	var res []string
	for _, placeholder := range placeholders {
		description := placeholder
		if name, found := names[placeholder]; found {
			description = name
		}
		if !seen[description] {
			seen[description] = true
			res = append(res, description)
		}
	}
	sort.Strings(res)
	return res
}

// digestOfLibraries produces a stable digest of a library mapping, used as
// part of the linked-view cache key.
func digestOfLibraries(libraries map[string]duet.Address) duet.Hash {
	entries := make([]string, 0, len(libraries))
	for name, address := range libraries {
		entries = append(entries, name+"="+hex.EncodeToString(address[:]))
	}
	sort.Strings(entries)

	hasher := sha3.NewLegacyKeccak256()
	for _, entry := range entries {
		hasher.Write([]byte(entry))
		hasher.Write([]byte{0})
	}
	var digest duet.Hash
	hasher.Sum(digest[0:0])
	return digest
}
