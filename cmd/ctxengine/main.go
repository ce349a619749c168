// Command ctxengine is the CLI entrypoint for the context engine: a
// thin consumer of the core library, wiring config, store, embedding
// provider, and the retrieval/assembly pipeline into a handful of
// cobra subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/ctxengine/cmd/ctxengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
