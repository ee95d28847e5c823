package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/client"
	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/node"
)

var (
	applyFile string
	applyAddr string
)

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "-", "Apply request JSON (- for stdin)")
	applyCmd.Flags().StringVar(&applyAddr, "addr", "", "Submit to a running server instead of the local store")
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit one adjustment to the host ledger",
	Long: `Reads an apply request (identity, adjustment, optional corridor) as JSON
and submits it once. Without --addr the request runs against the local
sqlite store and audit log; with --addr it goes to a running server.

On rejection the failing stage is printed and state is unchanged.`,
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	var req node.ApplyRequest
	if err := readJSON(applyFile, &req); err != nil {
		return err
	}

	var (
		resp node.ApplyResponse
		err  error
	)
	if applyAddr != "" {
		c, cerr := client.New(applyAddr)
		if cerr != nil {
			return cerr
		}
		defer c.Close()
		resp, err = c.Apply(req)
	} else {
		n, oerr := openNode()
		if oerr != nil {
			return oerr
		}
		defer n.Close()
		resp, err = n.Apply(req)
	}
	if err != nil {
		if stage := ledger.StageOf(err); stage != "" {
			fmt.Fprintf(os.Stderr, "REJECTED at %s\n", stage)
		}
		return err
	}
	return printJSON(resp)
}
