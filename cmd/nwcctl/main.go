package main

import (
	"os"

	"nostr-wallet/cmd/nwcctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
