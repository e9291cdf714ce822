// Command lockerbench load-tests a locker reservation service and checks
// that no locker is ever won twice.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lockerbench/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
