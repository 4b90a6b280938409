// Command pipelinectl validates, plans and runs pipeline files locally.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
