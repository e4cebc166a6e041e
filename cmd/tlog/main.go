package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/SmitUplenchwar2687/tlog/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "tlog:", err)
		os.Exit(1)
	}
}
