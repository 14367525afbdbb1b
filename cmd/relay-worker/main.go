package main

import (
	"log"

	relayworker "github.com/sdrelay/sdrelay/packages/workers/relay"
)

func main() {
	if err := relayworker.Run(); err != nil {
		log.Fatalf("relay worker failed: %v", err)
	}
}
