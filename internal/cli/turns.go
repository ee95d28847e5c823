package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/model"
)

var (
	turnsAddr string
	turnsJSON bool
)

func init() {
	rootCmd.AddCommand(turnsCmd)
	turnsCmd.AddCommand(turnsStatusCmd)
	turnsStatusCmd.Flags().StringVar(&turnsAddr, "addr", "", "Query a running server instead of the local store")
	turnsStatusCmd.Flags().BoolVar(&turnsJSON, "json", false, "Print JSON")
}

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Turn discipline operations",
}

var turnsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's turn count, spacing and per-domain usage",
	RunE:  runTurnsStatus,
}

func runTurnsStatus(cmd *cobra.Command, args []string) error {
	st, err := loadStatus(turnsAddr)
	if err != nil {
		return err
	}
	if turnsJSON {
		return printJSON(map[string]any{
			"host_id":      st.HostID,
			"turns":        st.Turns,
			"turn_policy":  st.TurnPolicy,
			"domain_usage": st.Usage,
		})
	}

	fmt.Printf("Host:   %s\n", st.HostID)
	fmt.Printf("Date:   %s\n", st.Turns.Date)
	fmt.Printf("Turns:  %d / %d\n", st.Turns.TurnsUsed, st.TurnPolicy.MaxTurnsPerDay)
	if st.Turns.LastTurn != nil {
		fmt.Printf("Last:   %s (min spacing %ds)\n", st.Turns.LastTurn.UTC().Format(time.RFC3339), st.TurnPolicy.MinSecondsBetweenTurns)
	}
	if len(st.Usage.Used) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println("Domain usage:")
	domains := make([]string, 0, len(st.Usage.Used))
	for d := range st.Usage.Used {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)
	for _, d := range domains {
		fmt.Printf("  %-22s %.4f\n", d, st.Usage.Used[model.Domain(d)])
	}
	return nil
}
