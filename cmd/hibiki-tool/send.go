// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hibiki-im/hibiki-go/pkg/agent"
)

// sendMessage for the "send" CLI option.
func sendMessage(args []string) {
	if len(args) != 4 {
		printUsage()
	}

	var (
		api   = args[0]
		input = args[3]
		text  = input
	)

	target, err := parseTarget(args[1], args[2])
	if err != nil {
		printFatal(err, "Parsing target")
	}

	if input == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			printFatal(err, "Reading stdin")
		}
		text = strings.TrimRight(string(data), "\n")
	}

	resp, err := newAPIClient(api).send(agent.RestSendRequest{
		Kind: target.Kind.String(),
		ID:   target.ID,
		Text: text,
	})
	if err != nil {
		printFatal(err, "Sending message")
	}

	fmt.Printf("sent as %s, trace %s, ids %v\n", resp.Strategy, resp.TraceID, resp.IDs)
}
