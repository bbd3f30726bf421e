// Command autokit runs the event-triggered workflow engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/autokit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "autokit:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
