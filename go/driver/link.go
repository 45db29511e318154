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
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/0xsoniclabs/duet/go/artifact"
	"github.com/0xsoniclabs/duet/go/duet"
	"github.com/0xsoniclabs/duet/go/linker"
)

var LinkCmd = cli.Command{
	Action:    doLink,
	Name:      "link",
	Usage:     "Compute a library deployment plan for a compiler output file",
	ArgsUsage: "<artifacts.json>",
	Flags: []cli.Flag{
		&libraryFlag,
		&deployerFlag,
		&nonceFlag,
	},
}

var (
	libraryFlag = cli.StringSliceFlag{
		Name:  "lib",
		Usage: "predeployed library as <path>:<Name>=<address>, may be given multiple times",
	}
	deployerFlag = cli.StringFlag{
		Name:  "deployer",
		Usage: "address deploying the planned libraries",
		Value: "0x0000000000000000000000000000000000000001",
	}
	nonceFlag = cli.Uint64Flag{
		Name:  "nonce",
		Usage: "deployment nonce of the deployer at execution time",
	}
)

func doLink(context *cli.Context) error {
	if context.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one artifacts file")
	}

	store, err := loadArtifacts(context.Args().First())
	if err != nil {
		return err
	}

	predeployed, err := parseLibraries(context.StringSlice(libraryFlag.Name))
	if err != nil {
		return err
	}
	var deployer duet.Address
	if err := deployer.UnmarshalText([]byte(context.String(deployerFlag.Name))); err != nil {
		return fmt.Errorf("invalid deployer address: %w", err)
	}

	result, err := linker.Resolve(store, predeployed, linker.Config{
		Deployer:   deployer,
		StartNonce: context.Uint64(nonceFlag.Name),
	})
	if err != nil {
		return err
	}

	if len(result.Plan) == 0 {
		fmt.Println("all library references resolved, nothing to deploy")
	}
	for _, deployment := range result.Plan {
		fmt.Printf("deploy %-40s at %v (nonce %d)\n",
			deployment.ID.FullyQualifiedName(), deployment.Address, deployment.Nonce)
	}
	return nil
}

// loadArtifacts reads a compiler output file into a frozen store.
func loadArtifacts(path string) (*artifact.Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	contracts, err := artifact.DecodeOutput(file)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	store, err := artifact.NewStore(artifact.StoreConfig{})
	if err != nil {
		return nil, err
	}
	for _, contract := range contracts {
		if err := store.Put(contract); err != nil {
			return nil, err
		}
	}
	store.Freeze()
	return store, nil
}

// parseLibraries parses --lib flags of the form <path>:<Name>=<address>.
func parseLibraries(entries []string) (map[string]duet.Address, error) {
	libraries := map[string]duet.Address{}
	for _, entry := range entries {
		name, address, found := strings.Cut(entry, "=")
		if !found || !strings.Contains(name, ":") {
			return nil, fmt.Errorf("invalid library %q, expected <path>:<Name>=<address>", entry)
		}
		var addr duet.Address
		if err := addr.UnmarshalText([]byte(address)); err != nil {
			return nil, fmt.Errorf("invalid address of library %s: %w", name, err)
		}
		libraries[name] = addr
	}
	return libraries, nil
}
