package main

import (
	"os"

	"github.com/gocrash/crashwalk/cmd/crashwalk/cmds"
)

func main() {
	root := cmds.New()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
