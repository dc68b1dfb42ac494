package main

import (
	"log"

	"github.com/thiagokokada/gitctx/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("gitctx: %v", err)
	}
}
