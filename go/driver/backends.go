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
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/0xsoniclabs/duet/go/duet"
)

var BackendsCmd = cli.Command{
	Action: doListBackends,
	Name:   "backends",
	Usage:  "List the available execution backends",
}

func doListBackends(context *cli.Context) error {
	registered := duet.GetAllRegisteredBackends()
	kinds := make([]duet.BackendKind, 0, len(registered))
	for kind := range registered {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		fmt.Println(kind)
	}
	return nil
}
