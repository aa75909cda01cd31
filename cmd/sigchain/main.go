package main

import (
	"os"

	"github.com/majorcontext/sigchain/cmd/sigchain/cli"
	"github.com/majorcontext/sigchain/internal/log"
)

func main() {
	err := cli.Execute()
	log.Close()
	if err != nil {
		os.Exit(1)
	}
}
