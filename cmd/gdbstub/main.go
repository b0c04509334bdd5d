package main

import (
	"os"

	"github.com/hwemu/gdbstub/cmd/gdbstub/cmds"
	"github.com/hwemu/gdbstub/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.GdbstubVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
