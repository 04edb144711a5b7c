// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// printUsage of hibiki-tool and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s state|servers|send|watch|serve:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s state api\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints the connection state of the hibikid behind the api, e.g., http://localhost:8080.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s servers api\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints the server addresses known to the hibikid.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s send api friend|group id -|text\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends the text or the stdin (-) as a message to a friend or group.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s watch api friend|group id directory\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends each file created in the directory as a message to a friend or group.\n")
	_, _ = fmt.Fprintf(os.Stderr, "  Sent files are moved into the directory's \"sent\" subdirectory.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s serve account listen\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Runs a development server for one account on a TCP address and announces it\n")
	_, _ = fmt.Fprintf(os.Stderr, "  within the local network. Clients need network.fallback-key-exchange.\n\n")

	os.Exit(1)
}

// printFatal of an error with a short context description and exits afterwards.
func printFatal(err error, msg string) {
	_, _ = fmt.Fprintf(os.Stderr, "%s errored: %s\n  %v\n", os.Args[0], msg, err)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	switch os.Args[1] {
	case "state":
		showState(os.Args[2:])

	case "servers":
		showServers(os.Args[2:])

	case "send":
		sendMessage(os.Args[2:])

	case "watch":
		startWatch(os.Args[2:])

	case "serve":
		startServe(os.Args[2:])

	default:
		printUsage()
	}
}
