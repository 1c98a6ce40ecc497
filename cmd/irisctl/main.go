package main

import (
	"fmt"
	"os"

	"github.com/iris-ckd-mcp-server/cmd/irisctl/cmd"
)

// Version information, set at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd.SetVersion(version, commit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
