// Package main provides the geoping CLI.
//
// Usage:
//
//	geoping [flags] <command> [args]
//
// Commands:
//
//	login / logout    - backend session management
//	rooms             - room registry and subscriptions
//	monitor           - run the presence monitor
//	collect / train   - training data collection and model training
//
// Configuration lives in the OS config directory under geoping/.
package main

import (
	"fmt"
	"os"

	"github.com/geoping/geoping/cmd/geoping/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
