// Package main provides the QueryDeck CLI.
package main

import (
	"os"

	"github.com/querydeck-io/querydeck/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
