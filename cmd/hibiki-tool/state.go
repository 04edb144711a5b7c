// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/hibiki-im/hibiki-go/pkg/agent"
)

// showState for the "state" CLI option.
func showState(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	var state agent.RestStateResponse
	if err := newAPIClient(args[0]).get("state", &state); err != nil {
		printFatal(err, "Requesting state")
	}

	fmt.Printf("%s (online: %t)\n", state.State, state.Online)
}

// showServers for the "servers" CLI option.
func showServers(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	var servers agent.RestServersResponse
	if err := newAPIClient(args[0]).get("servers", &servers); err != nil {
		printFatal(err, "Requesting servers")
	}

	for _, server := range servers.Servers {
		fmt.Println(server)
	}
}
