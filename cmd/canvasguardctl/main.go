// canvasguardctl is the operator CLI for a running canvasguardd daemon.
package main

import (
	"os"

	"github.com/andrewboldi/canvasguard/internal/ctlcmd"
)

func main() {
	os.Exit(ctlcmd.Execute())
}
