// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"

	"github.com/dsnet/golib/unitconv"
	"github.com/urfave/cli/v2"

	"github.com/0xsoniclabs/duet/go/duet"
)

var InspectCmd = cli.Command{
	Action:    doInspect,
	Name:      "inspect",
	Usage:     "Summarize the contracts of a compiler output file",
	ArgsUsage: "<artifacts.json>",
}

func doInspect(context *cli.Context) error {
	if context.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one artifacts file")
	}
	store, err := loadArtifacts(context.Args().First())
	if err != nil {
		return err
	}

	for _, id := range store.All() {
		contract, _ := store.Contract(id)
		fmt.Printf("%s (compiler %s)\n", id.FullyQualifiedName(), id.CompilerVersion)
		fmt.Printf("  primary code:   %sB\n", formatSize(len(contract.DeployedCode)/2))
		if contract.AlternateDeployedCode != "" {
			fmt.Printf("  alternate code: %sB\n", formatSize(len(contract.AlternateDeployedCode)/2))
		} else {
			fmt.Printf("  alternate code: none, %v backend only\n", duet.Primary)
		}
		if contract.StorageLayout != nil {
			fmt.Printf("  storage slots:  %d\n", len(contract.StorageLayout.Slots))
		}
		if references := contract.DeployedCode.Placeholders(); len(references) > 0 {
			fmt.Printf("  library refs:   %d\n", len(references))
		}
	}
	return nil
}

func formatSize(size int) string {
	return unitconv.FormatPrefix(float64(size), unitconv.SI, 1)
}
