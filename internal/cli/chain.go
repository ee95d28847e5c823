package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/store"
)

var chainReplay bool

func init() {
	rootCmd.AddCommand(chainCmd)
	chainCmd.AddCommand(chainVerifyCmd)
	chainVerifyCmd.Flags().BoolVar(&chainReplay, "replay", true, "Re-run the guard over every event from the configured initial state")
}

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Ledger event chain operations",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the stored ledger event chain",
	Long: `Loads the host's events from the sqlite store and checks that every
prev_state_hash links to the previous event. With --replay (default) every
adjustment is re-applied from the configured initial state and each hash is
recomputed; the final state must match the stored snapshot.
Exits 0 if valid, 1 otherwise.`,
	RunE: runChainVerify,
}

func runChainVerify(cmd *cobra.Command, args []string) error {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.DB == "" {
		return fmt.Errorf("no store configured")
	}
	st, err := store.Open(cfg.Storage.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	hostID := cfg.Envelope.HostID
	events, err := st.LoadEvents(hostID)
	if err != nil {
		return err
	}
	if err := ledger.VerifyChain(events); err != nil {
		return chainFailed(err)
	}
	if !chainReplay {
		fmt.Printf("OK: %d events linked\n", len(events))
		return nil
	}

	final, err := ledger.Replay(cfg.Envelope, cfg.Initial, events)
	if err != nil {
		return chainFailed(err)
	}
	_, hash, ok, err := st.LoadState(hostID)
	if err != nil {
		return err
	}
	if ok {
		replayed, err := ledger.HashState(hostID, cfg.Envelope, final)
		if err != nil {
			return err
		}
		if replayed != hash {
			return chainFailed(fmt.Errorf("stored state %s, replayed %s", hash, replayed))
		}
	}
	fmt.Printf("OK: %d events replayed for %s\n", len(events), hostID)
	return nil
}

func chainFailed(err error) error {
	fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
	os.Exit(1)
	return nil
}
