// Command qflash is the host-side CLI for the EDL flashing stack in
// this module: one subcommand per entry in the stable host command
// surface (erase_part, read_part, write_part, ...), each taking
// primitive flags and returning either nil (exit status 0) or an error,
// which main prints to stderr before exiting with status 1.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
