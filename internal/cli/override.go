package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hostguard/internal/breakglass"
	"github.com/ppiankov/hostguard/internal/client"
	"github.com/ppiankov/hostguard/internal/config"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/node"
)

var (
	keygenForce       bool
	issueTranscript   string
	issueExplanation  string
	issueDuration     time.Duration
	issueOut          string
	overrideTokenFile string
	overrideAdjFile   string
	overrideAddr      string
)

func init() {
	rootCmd.AddCommand(overrideCmd)
	overrideCmd.AddCommand(overrideKeygenCmd)
	overrideCmd.AddCommand(overrideIssueCmd)
	overrideCmd.AddCommand(overrideApplyCmd)
	overrideCmd.AddCommand(overrideListCmd)

	overrideKeygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing host key")

	overrideIssueCmd.Flags().StringVar(&issueTranscript, "transcript-hash", "", "Hash of the incident transcript (required)")
	overrideIssueCmd.Flags().StringVar(&issueExplanation, "explanation", "", "Human explanation, at least 25 words (required)")
	overrideIssueCmd.Flags().DurationVar(&issueDuration, "duration", breakglass.DefaultDuration, "Token validity period (max 1h)")
	overrideIssueCmd.Flags().StringVarP(&issueOut, "out", "o", "", "Write the token to this file instead of stdout")

	overrideApplyCmd.Flags().StringVar(&overrideTokenFile, "token", "", "Override token JSON file (required)")
	overrideApplyCmd.Flags().StringVarP(&overrideAdjFile, "file", "f", "-", "Adjustment JSON (- for stdin)")
	overrideApplyCmd.Flags().StringVar(&overrideAddr, "addr", "", "Submit to a running server instead of the local store")
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Emergency override tokens",
	Long: `Issue and redeem single-use emergency override tokens.

A token is signed with the host's own key, carries a transcript hash and a
human explanation, and authorizes one adjustment that skips turn discipline
and corridor checks. The safety guard still applies. At most
override.max_per_day tokens may be redeemed per UTC day.`,
}

var overrideKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the host override key",
	Long:  "Writes a new Ed25519 host key to override.host_key_path and prints the\npublic key for override.host_public_key.",
	RunE:  runOverrideKeygen,
}

var overrideIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed emergency override token",
	RunE:  runOverrideIssue,
}

var overrideApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Redeem an override token for one adjustment",
	RunE:  runOverrideApply,
}

var overrideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List consumed override tokens",
	RunE:  runOverrideList,
}

func runOverrideKeygen(cmd *cobra.Command, args []string) error {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Override.HostKeyPath
	if path == "" {
		return fmt.Errorf("override.host_key_path is not set")
	}
	if !keygenForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("host key already exists: %s (use --force to overwrite)", path)
		}
	}

	pub, priv, err := breakglass.GenerateKey()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(priv+"\n"), 0o600); err != nil {
		return fmt.Errorf("write host key: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Host key written to %s\n", path)
	fmt.Println(pub)
	return nil
}

func runOverrideIssue(cmd *cobra.Command, args []string) error {
	if issueTranscript == "" {
		return fmt.Errorf("--transcript-hash is required")
	}
	if issueExplanation == "" {
		return fmt.Errorf("--explanation is required")
	}
	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}
	priv, err := breakglass.LoadPrivateKey(cfg.Override.HostKeyPath)
	if err != nil {
		return err
	}

	tok, err := breakglass.Issue(priv, cfg.Envelope.HostID, issueTranscript, issueExplanation, issueDuration, time.Now())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if issueOut != "" {
		if err := os.WriteFile(issueOut, append(out, '\n'), 0o600); err != nil {
			return fmt.Errorf("write token: %w", err)
		}
	} else {
		fmt.Println(string(out))
	}

	fmt.Fprintf(os.Stderr, "Override token issued: %s\n", tok.ID)
	fmt.Fprintf(os.Stderr, "Host:    %s\n", tok.HostID)
	fmt.Fprintf(os.Stderr, "Expires: %s\n", tok.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintln(os.Stderr, "This token covers ONE adjustment, then it is spent.")
	return nil
}

// hostDaemon is the identity an override is redeemed under.
func hostDaemon(hostID string) model.IdentityHeader {
	return model.IdentityHeader{
		IssuerID:        hostID,
		Role:            model.RoleSystemDaemon,
		Tier:            model.TierInnerCore,
		KnowledgeFactor: 1,
	}
}

func runOverrideApply(cmd *cobra.Command, args []string) error {
	if overrideTokenFile == "" {
		return fmt.Errorf("--token is required")
	}
	var tok breakglass.Token
	if err := readJSON(overrideTokenFile, &tok); err != nil {
		return err
	}
	var adj model.Adjustment
	if err := readJSON(overrideAdjFile, &adj); err != nil {
		return err
	}
	req := node.ApplyRequest{
		Identity:   hostDaemon(tok.HostID),
		Adjustment: adj,
		Override:   &tok,
	}

	var (
		resp node.ApplyResponse
		err  error
	)
	if overrideAddr != "" {
		c, cerr := client.New(overrideAddr)
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
		return fmt.Errorf("override rejected: %w", err)
	}
	return printJSON(resp)
}

func runOverrideList(cmd *cobra.Command, args []string) error {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := breakglass.NewStore(overrideDir(cfg.Override))
	if err != nil {
		return fmt.Errorf("failed to open override store: %w", err)
	}
	tokens, err := store.List()
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Println("No override tokens used.")
		return nil
	}
	for _, t := range tokens {
		used := "-"
		if t.UsedAt != nil {
			used = t.UsedAt.UTC().Format(time.RFC3339)
		}
		fmt.Printf("%-40s host=%s used=%s expires=%s\n", t.ID, t.HostID, used, t.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func overrideDir(c config.OverrideConfig) string {
	if c.Dir != "" {
		return c.Dir
	}
	return breakglass.DefaultDir()
}
