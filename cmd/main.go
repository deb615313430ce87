/**
 * @description
 * Entry point for the core-banking service. All commands live in internal/cli.
 */

package main

import (
	"os"

	"github.com/transfa/core-banking-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
