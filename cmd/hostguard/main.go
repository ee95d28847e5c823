// hostguard runs the per-host safety ledger: a gRPC and MCP boundary over
// identity, turn, corridor and invariant checks with a hash-chained journal.
package main

import (
	"log"

	"github.com/ppiankov/hostguard/internal/cli"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("hostguard: ")
	cli.Execute()
}
