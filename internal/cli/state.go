package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/client"
	"github.com/ppiankov/hostguard/internal/ledger"
)

var stateAddr string

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.Flags().StringVar(&stateAddr, "addr", "", "Query a running server instead of the local store")
}

var stateCmd = &cobra.Command{
	Use:     "state",
	Aliases: []string{"status"},
	Short:   "Show current vitals, lifeforce bands and chain tail",
	RunE:    runState,
}

func runState(cmd *cobra.Command, args []string) error {
	st, err := loadStatus(stateAddr)
	if err != nil {
		return err
	}
	return printJSON(st)
}

// loadStatus reads the ledger status from addr, or from the local store.
func loadStatus(addr string) (ledger.Status, error) {
	if addr != "" {
		c, err := client.New(addr)
		if err != nil {
			return ledger.Status{}, err
		}
		defer c.Close()
		return c.Status()
	}
	n, err := openNode()
	if err != nil {
		return ledger.Status{}, err
	}
	defer n.Close()
	return n.Status(), nil
}
