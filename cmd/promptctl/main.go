// Command promptctl submits prompts to a promptqueue server and follows the
// streamed response.
//
// Usage:
//
//	promptctl [flags] submit <prompt...>
//	promptctl [flags] queue
//	promptctl [flags] limit <n>
package main

import (
	"fmt"
	"os"

	"github.com/ent0n29/promptqueue/cmd/promptctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
