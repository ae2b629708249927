// Command fieldsync queues data mutations while offline and replays them
// against the remote store when connectivity returns.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fieldsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
