package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/client"
	"github.com/ppiankov/hostguard/internal/node"
)

var (
	donateFile string
	donateAddr string
)

func init() {
	rootCmd.AddCommand(donateCmd)
	donateCmd.Flags().StringVarP(&donateFile, "file", "f", "-", "Schedule request JSON (- for stdin)")
	donateCmd.Flags().StringVar(&donateAddr, "addr", "", "Schedule on a running server instead of the local store")
}

var donateCmd = &cobra.Command{
	Use:   "donate",
	Short: "Run one donation scheduling window",
	Long: `Reads an admin identity, pool size and window context as JSON and runs
one scheduling window against the host's hardware receivers. Vitals are
always taken from the ledger. Prints the donation audit and the remaining pool.`,
	RunE: runDonate,
}

func runDonate(cmd *cobra.Command, args []string) error {
	var req node.ScheduleRequest
	if err := readJSON(donateFile, &req); err != nil {
		return err
	}

	if donateAddr != "" {
		c, err := client.New(donateAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err := c.Schedule(req)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}

	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()
	resp, err := n.ScheduleReq(req)
	if err != nil {
		return err
	}
	return printJSON(resp)
}
