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
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/0xsoniclabs/duet/go/duet"
)

func TestPlaceholderOf_HasCompilerShape(t *testing.T) {
	placeholder := PlaceholderOf("src/Lib.sol:Math")
	if len(placeholder) != placeholderLength {
		t.Fatalf("unexpected placeholder length: %d", len(placeholder))
	}
	if !strings.HasPrefix(placeholder, "__$") || !strings.HasSuffix(placeholder, "$__") {
		t.Fatalf("unexpected placeholder shape: %s", placeholder)
	}
}

func TestPlaceholderOf_DistinguishesLibraries(t *testing.T) {
	a := PlaceholderOf("src/Lib.sol:Math")
	b := PlaceholderOf("src/Lib.sol:Bits")
	if a == b {
		t.Errorf("different libraries must produce different placeholders")
	}
}

func TestBytecode_PlaceholdersAreFoundInOrder(t *testing.T) {
	first := PlaceholderOf("a.sol:A")
	second := PlaceholderOf("b.sol:B")
	code := Bytecode("6001" + second + "6002" + first + "6003" + second)

	want := []string{second, first}
	if got := code.Placeholders(); !slices.Equal(want, got) {
		t.Errorf("unexpected placeholders, wanted %v, got %v", want, got)
	}
}

func TestBytecode_PlaceholderFreeCodeHasNoPlaceholders(t *testing.T) {
	if got := Bytecode("60016002").Placeholders(); got != nil {
		t.Errorf("unexpected placeholders in plain code: %v", got)
	}
}

func TestBytecode_LinkSubstitutesAllOccurrences(t *testing.T) {
	placeholder := PlaceholderOf("a.sol:A")
	address := duet.Address{0xAA, 0xBB}
	code := Bytecode("6001" + placeholder + "6002" + placeholder)

	linked, missing := code.Link(map[string]duet.Address{placeholder: address})
	if len(missing) != 0 {
		t.Fatalf("unexpected missing placeholders: %v", missing)
	}
	if strings.Contains(string(linked), "__$") {
		t.Errorf("code still contains placeholders: %s", linked)
	}

	binary, err := linked.Bytes()
	if err != nil {
		t.Fatalf("failed to decode linked code: %v", err)
	}
	if want, got := 2+2*len(address)+2, len(binary); want != got {
		t.Errorf("unexpected code size, wanted %d, got %d", want, got)
	}
}

func TestBytecode_LinkReportsUncoveredPlaceholders(t *testing.T) {
	placeholder := PlaceholderOf("a.sol:A")
	code := Bytecode("6001" + placeholder)

	_, missing := code.Link(nil)
	if want := []string{placeholder}; !slices.Equal(want, missing) {
		t.Errorf("unexpected missing list, wanted %v, got %v", want, missing)
	}
}

func TestBytecode_BytesRejectsUnlinkedCode(t *testing.T) {
	code := Bytecode("6001" + PlaceholderOf("a.sol:A"))
	_, err := code.Bytes()
	var unresolved *duet.UnresolvedLibraryError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedLibraryError, got %v", err)
	}
}

func TestBytecode_BytesRejectsInvalidHex(t *testing.T) {
	if _, err := Bytecode("60zz").Bytes(); err == nil {
		t.Errorf("expected decoding to fail")
	}
}

func TestBytecode_BytesAcceptsHexPrefix(t *testing.T) {
	binary, err := Bytecode("0x6001").Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want, got := 2, len(binary); want != got {
		t.Errorf("unexpected length, wanted %d, got %d", want, got)
	}
}
