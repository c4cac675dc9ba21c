package main

import (
	"os"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
