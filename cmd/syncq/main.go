package main

import (
	"fmt"
	"os"

	"github.com/UniQw/syncq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "syncq:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
