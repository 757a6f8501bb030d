// Command disburse runs the delegated payments pipeline.
package main

import (
	"context"
	"os"

	"github.com/roach88/disburse/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
