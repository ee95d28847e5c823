package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/audit"
)

var (
	tailLines     int
	timelineHost  string
	timelineType  string
	timelineSince time.Duration
	timelineJSON  bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditTimelineCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTimelineCmd.Flags().StringVar(&timelineHost, "host", "", "Only entries for this host id")
	auditTimelineCmd.Flags().StringVar(&timelineType, "type", "", "Only entries of this type (ledger_commit, ledger_abort, emergency_override, route, donation)")
	auditTimelineCmd.Flags().DurationVar(&timelineSince, "since", 0, "Only entries newer than this duration (e.g. 24h)")
	auditTimelineCmd.Flags().BoolVar(&timelineJSON, "json", false, "Print JSON instead of a text timeline")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.\nThe log path defaults to storage.audit_log from the host config.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditTimelineCmd = &cobra.Command{
	Use:   "timeline [path]",
	Short: "Show a filtered timeline with summary counts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTimeline,
}

// auditPath returns the explicit argument or the configured audit log.
func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, _, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Storage.AuditLog == "" {
		return "", fmt.Errorf("no audit log configured")
	}
	return cfg.Storage.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		types := make([]string, 0, len(result.Counts))
		for t := range result.Counts {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %-20s %d\n", t, result.Counts[audit.EntryType(t)])
		}
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	entries, err := audit.Tail(path, tailLines)
	if err != nil {
		return err
	}
	for _, e := range entries {
		out, _ := json.MarshalIndent(e, "", "  ")
		fmt.Println(string(out))
	}
	return nil
}

func runAuditTimeline(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	filter := audit.Filter{
		HostID: timelineHost,
		Type:   audit.EntryType(timelineType),
	}
	if timelineSince > 0 {
		filter.From = time.Now().Add(-timelineSince)
	}
	result, err := audit.Query(path, filter)
	if err != nil {
		return err
	}
	if timelineJSON {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(audit.FormatTimeline(result))
	return nil
}
