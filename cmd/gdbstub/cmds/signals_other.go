//go:build !unix

package cmds

import "os"

var interruptSignals = []os.Signal{os.Interrupt}
