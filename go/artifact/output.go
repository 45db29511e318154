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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// This file decodes the combined-JSON output of the external compiler
// pipeline into CompiledContract records. The format follows the solc
// combined-json conventions; images produced by the alternate-VM compiler
// variant are carried in `alternate-bin` / `alternate-bin-runtime` fields.

type outputFile struct {
	Version   string                            `json:"version"`
	Contracts map[string]map[string]outputEntry `json:"contracts"`
}

type outputEntry struct {
	ABI                 json.RawMessage `json:"abi"`
	Bin                 string          `json:"bin"`
	BinRuntime          string          `json:"bin-runtime"`
	AlternateBin        string          `json:"alternate-bin"`
	AlternateBinRuntime string          `json:"alternate-bin-runtime"`
	SrcMap              string          `json:"srcmap"`
	StorageLayout       *outputLayout   `json:"storage-layout"`
}

type outputLayout struct {
	Storage []outputSlot `json:"storage"`
}

type outputSlot struct {
	Label  string `json:"label"`
	Slot   string `json:"slot"` // decimal string, as emitted by solc
	Offset int    `json:"offset"`
	Type   string `json:"type"`
}

// DecodeOutput parses a combined-JSON compiler output stream into the raw
// contract records to be placed in a Store.
func DecodeOutput(reader io.Reader) ([]CompiledContract, error) {
	var file outputFile
	if err := json.NewDecoder(reader).Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing compiler output: %w", err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("compiler output lacks a version")
	}

	var res []CompiledContract
	for sourcePath, contracts := range file.Contracts {
		for name, entry := range contracts {
			contract := CompiledContract{
				ID: ContractID{
					SourcePath:      sourcePath,
					Name:            name,
					CompilerVersion: file.Version,
				},
				ABI:                   []byte(entry.ABI),
				SourceMap:             entry.SrcMap,
				CreationCode:          Bytecode(entry.Bin),
				DeployedCode:          Bytecode(entry.BinRuntime),
				AlternateCreationCode: Bytecode(entry.AlternateBin),
				AlternateDeployedCode: Bytecode(entry.AlternateBinRuntime),
			}
			if entry.StorageLayout != nil {
				layout, err := convertLayout(entry.StorageLayout)
				if err != nil {
					return nil, fmt.Errorf("parsing storage layout of %v: %w", contract.ID, err)
				}
				contract.StorageLayout = layout
			}
			res = append(res, contract)
		}
	}
	return res, nil
}

func convertLayout(layout *outputLayout) (*StorageLayout, error) {
	res := &StorageLayout{Slots: make([]StorageSlot, 0, len(layout.Storage))}
	for _, slot := range layout.Storage {
		number, err := strconv.ParseUint(slot.Slot, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid slot number %q for %s: %w", slot.Slot, slot.Label, err)
		}
		res.Slots = append(res.Slots, StorageSlot{
			Label:  slot.Label,
			Slot:   number,
			Offset: slot.Offset,
			Type:   slot.Type,
		})
	}
	return res, nil
}
