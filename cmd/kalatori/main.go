package main

import (
	"os"

	"github.com/punchamoorthee/kalatori/internal/cli"
)

var Version = "dev"

func main() {
	if err := cli.Execute(Version); err != nil {
		os.Exit(1)
	}
}
