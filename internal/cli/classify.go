package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/client"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/node"
	"github.com/ppiankov/hostguard/internal/router"
)

var (
	classifyFile string
	classifyAddr string
)

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVarP(&classifyFile, "file", "f", "-", "Classify request JSON (- for stdin)")
	classifyCmd.Flags().StringVar(&classifyAddr, "addr", "", "Classify on a running server instead of locally")
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a proposed micro-action as safe, defer or deny",
	Long: `Reads an observation, domain and optional pain signal as JSON and prints
the router decision log. Nothing is applied; the decision is recorded in the
audit log.

Exits 1 on deny. A server that cannot be reached is treated as deny.`,
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	var req node.ClassifyRequest
	if err := readJSON(classifyFile, &req); err != nil {
		return err
	}

	decision, err := classify(req)
	if err != nil && decision.Decision == "" {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if perr := printJSON(decision); perr != nil {
		return perr
	}
	if decision.Decision == model.Deny {
		os.Exit(1)
	}
	return nil
}

// classify runs req remotely when --addr is set, otherwise against a local
// node that is closed before returning.
func classify(req node.ClassifyRequest) (router.DecisionLog, error) {
	if classifyAddr != "" {
		c, err := client.New(classifyAddr)
		if err != nil {
			return router.DecisionLog{}, err
		}
		defer c.Close()
		return c.Classify(req)
	}
	n, err := openNode()
	if err != nil {
		return router.DecisionLog{}, err
	}
	defer n.Close()
	return n.ClassifyReq(req)
}
