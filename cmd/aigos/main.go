package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aigos-io/aigos/internal/cga"
	"github.com/aigos-io/aigos/internal/goldenthread"
	"github.com/aigos-io/aigos/internal/issuer"
	"github.com/aigos-io/aigos/internal/spawn"
	"github.com/aigos-io/aigos/internal/token"
	"github.com/aigos-io/aigos/internal/verification"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aigos",
	Short: "AIGOS governance toolbox",
	Long: `aigos is the command-line toolbox for the AIGOS governance core.

It builds and verifies Golden Threads, runs certification checks against
an agent asset card, issues certificates, and inspects A2A tokens —
all locally, without a running daemon.`,
}

func init() {
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(certifyCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── thread ───────────────────────────────────────────────────────────────────

var (
	threadTicket     string
	threadApprovedBy string
	threadApprovedAt string
)

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Build a Golden Thread from an approved ticket",
	Long: `Thread builds the immutable Golden Thread record binding an agent to
its business authorization and prints it with the canonical hash:

  aigos thread --ticket JIRA-4811 --approved-by cto@example.com --approved-at 2026-08-01T09:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gt, err := goldenthread.Build(threadTicket, threadApprovedBy, threadApprovedAt)
		if err != nil {
			return err
		}
		return printJSON(gt)
	},
}

func init() {
	threadCmd.Flags().StringVar(&threadTicket, "ticket", "", "Approved ticket id (required)")
	threadCmd.Flags().StringVar(&threadApprovedBy, "approved-by", "", "Approver email (required)")
	threadCmd.Flags().StringVar(&threadApprovedAt, "approved-at", "", "Approval time, RFC 3339 (required)")
	_ = threadCmd.MarkFlagRequired("ticket")
	_ = threadCmd.MarkFlagRequired("approved-by")
	_ = threadCmd.MarkFlagRequired("approved-at")
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyTarget string

var verifyCmd = &cobra.Command{
	Use:   "verify <asset-card.yaml>",
	Short: "Run the certification check suite against an asset card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := cga.ParseLevel(verifyTarget)
		if err != nil {
			return err
		}
		engine := verification.NewEngine(zap.NewNop())
		report, err := engine.Verify(context.Background(), verification.Request{
			AssetCardPath: args[0],
			TargetLevel:   level,
		})
		if err != nil {
			return err
		}
		printReport(report)
		if report.AchievedLevel == nil {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyTarget, "level", "BRONZE", "Target certification level")
}

// printReport renders a report as an aligned table plus the verdict.
func printReport(report *cga.VerificationReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")
	for _, c := range report.Checks {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Status, c.Message)
	}
	w.Flush() //nolint:errcheck

	fmt.Printf("\n%d checks: %d passed, %d failed, %d warnings\n",
		report.Summary.Total, report.Summary.Passed, report.Summary.Failed, report.Summary.Warnings)
	if report.AchievedLevel != nil {
		fmt.Printf("achieved level: %s\n", *report.AchievedLevel)
	} else {
		fmt.Println("achieved level: none")
	}
}

// ── certify ──────────────────────────────────────────────────────────────────

var (
	certifyTarget string
	certifyOrg    string
	certifyKeyID  string
)

var certifyCmd = &cobra.Command{
	Use:   "certify <asset-card.yaml>",
	Short: "Verify an asset card and issue a certificate with a throwaway key",
	Long: `Certify runs the check suite and, when a level is achieved, issues a
full certificate signed with an ephemeral key. Useful for dry runs; for
production issuance use the daemon, which holds a persistent key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := cga.ParseLevel(certifyTarget)
		if err != nil {
			return err
		}
		card, err := verification.LoadAssetCard(args[0])
		if err != nil {
			return err
		}
		engine := verification.NewEngine(zap.NewNop())
		report, err := engine.Verify(context.Background(), verification.Request{
			Card:        card,
			TargetLevel: level,
		})
		if err != nil {
			return err
		}
		if report.AchievedLevel == nil {
			printReport(report)
			return fmt.Errorf("no level achieved; nothing to certify")
		}

		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return err
		}
		signer := issuer.NewES256Signer(key, certifyKeyID)
		gen := issuer.NewGenerator(certifyOrg, signer, issuer.StaticCA{ID: "aigos-dry-run-ca", Name: "AIGOS dry-run CA"}, zap.NewNop())

		components := goldenthread.Extract(card.Spec.AssetLike)
		if components == nil {
			return fmt.Errorf("asset card carries no golden thread")
		}
		hash, err := goldenthread.ComputeHash(*components)
		if err != nil {
			return err
		}

		cert, err := gen.Generate(report, card.Metadata.ID, card.Metadata.Version, hash)
		if err != nil {
			return err
		}
		return printJSON(cert)
	},
}

func init() {
	certifyCmd.Flags().StringVar(&certifyTarget, "level", "BRONZE", "Target certification level")
	certifyCmd.Flags().StringVar(&certifyOrg, "org", "aigos.io", "Issuing organization for self-signed levels")
	certifyCmd.Flags().StringVar(&certifyKeyID, "kid", "aigos-dry-run", "Key id stamped into the signature")
}

// ── inspect ──────────────────────────────────────────────────────────────────

var inspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Decode a token's claims without verifying the signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		claims, err := token.Extract(args[0])
		if err != nil {
			return err
		}
		if err := printJSON(claims); err != nil {
			return err
		}
		exp := time.Unix(claims.Expiry, 0).UTC()
		if !exp.After(time.Now()) {
			fmt.Fprintf(os.Stderr, "warning: token expired at %s\n", exp.Format(time.RFC3339))
		}
		fmt.Fprintln(os.Stderr, "note: claims are unverified")
		return nil
	},
}

// ── spawn ────────────────────────────────────────────────────────────────────

var (
	spawnMode       string
	spawnAutoAdjust bool
)

var spawnCmd = &cobra.Command{
	Use:   "spawn <parent.json> [request.json]",
	Short: "Validate a child spawn request or derive a decayed child set",
	Long: `Spawn reads a parent capability set (and optionally a spawn request)
from JSON files. With a request it validates the request against the
parent; without one it derives the child set under the given mode.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent := &spawn.CapabilitySet{}
		if err := readJSONFile(args[0], parent); err != nil {
			return err
		}
		enforcer := spawn.NewEnforcer(spawn.DefaultDecayRules(), spawnAutoAdjust, zap.NewNop())

		if len(args) == 2 {
			var req spawn.SpawnRequest
			if err := readJSONFile(args[1], &req); err != nil {
				return err
			}
			result := enforcer.Validate(parent, req)
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.Valid {
				os.Exit(1)
			}
			return nil
		}

		child, err := enforcer.ApplyDecay(parent, spawn.DecayMode(spawnMode), nil)
		if err != nil {
			return err
		}
		return printJSON(child)
	},
}

func init() {
	spawnCmd.Flags().StringVar(&spawnMode, "mode", "decay", "Decay mode: decay, explicit, or inherit")
	spawnCmd.Flags().BoolVar(&spawnAutoAdjust, "auto-adjust", false, "Attach a policy-correct child set to invalid results")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the aigos version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aigos %s\n", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSONFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
