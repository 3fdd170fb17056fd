// Command reviewctl ingests contracts and runs compliance reviews from the
// command line using the same services as the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"trustlens-backend/app"
	"trustlens-backend/config"
	"trustlens-backend/models"
	"trustlens-backend/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	store  string
	format string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "reviewctl",
		Short:         "Contract compliance review tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.store, "store", "", "Store backend (postgres, memory); defaults to STORE")
	cmd.PersistentFlags().StringVarP(&g.format, "format", "o", "text", "Output format (text, json)")

	cmd.AddCommand(checkCmd(g), ingestCmd(g), reviewCmd(g), rulesCmd(g))
	return cmd
}

// withApp loads configuration, wires the services and seeds the rule catalog
func withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if g.store != "" {
		cfg.Store = strings.ToLower(g.store)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, cfg.NewLogger())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	if _, err := a.SeedRules(ctx); err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	return fn(ctx, a)
}

func checkCmd(g *globalFlags) *cobra.Command {
	var (
		ruleIDs []string
		explain bool
	)
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Ingest a contract and review it in one step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				doc, err := ingestFile(ctx, a, args[0])
				if err != nil {
					return err
				}
				results, err := runReview(ctx, a, doc.ID, ruleIDs)
				if err != nil {
					return err
				}
				if err := printResults(cmd, g.format, results); err != nil {
					return err
				}
				if explain {
					return explainFindings(ctx, cmd, a, results)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&ruleIDs, "rule", "r", nil, "Rule ids to check (default: every enabled rule)")
	cmd.Flags().BoolVar(&explain, "explain", false, "Explain every non-passing verdict")
	return cmd
}

func ingestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Upload and index contracts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				var docs []*models.Document
				for _, path := range args {
					doc, err := ingestFile(ctx, a, path)
					if err != nil {
						return err
					}
					docs = append(docs, doc)
				}
				if g.format == "json" {
					return writeJSON(cmd, docs)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DOCUMENT\tFILE\tSTATUS\tPAGES\tCHUNKS")
				for _, d := range docs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", d.ID, d.Filename, d.Status, d.PageCount, d.ChunkCount)
				}
				return w.Flush()
			})
		},
	}
}

func reviewCmd(g *globalFlags) *cobra.Command {
	var ruleIDs []string
	cmd := &cobra.Command{
		Use:   "review <document-id>",
		Short: "Review an ingested document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				results, err := runReview(ctx, a, id, ruleIDs)
				if err != nil {
					return err
				}
				return printResults(cmd, g.format, results)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&ruleIDs, "rule", "r", nil, "Rule ids to check (default: every enabled rule)")
	return cmd
}

func rulesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the rule catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the latest version of every rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				rules, err := a.Rules.ListRules(ctx, false)
				if err != nil {
					return err
				}
				if g.format == "json" {
					return writeJSON(cmd, rules)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "RULE\tVERSION\tTYPE\tRISK\tENABLED\tINTENT")
				for _, r := range rules {
					fmt.Fprintf(w, "%s\tv%d\t%s\t%s\t%t\t%s\n", r.ID, r.Version, r.Type, r.RiskLevel, r.Enabled, r.Intent)
				}
				return w.Flush()
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import a YAML rule catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				res, err := a.Rules.ImportRules(ctx, f)
				if err != nil {
					return err
				}
				if g.format == "json" {
					return writeJSON(cmd, res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created: %d, updated: %d, unchanged: %d\n",
					len(res.Created), len(res.Updated), len(res.Unchanged))
				return nil
			})
		},
	}

	parse := &cobra.Command{
		Use:   "parse <requirement>",
		Short: "Turn a natural-language requirement into a structured rule",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				rule, err := a.Rules.ParseRule(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return writeJSON(cmd, rule)
			})
		},
	}

	cmd.AddCommand(list, importCmd, parse)
	return cmd
}

func ingestFile(ctx context.Context, a *app.App, path string) (*models.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := a.Documents.Upload(ctx, service.UploadRequest{Filename: filepath.Base(path), Content: content})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.Documents.Wait()

	doc, err := a.Documents.Get(ctx, res.Document.ID)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.DocumentError {
		msg := "ingestion failed"
		if doc.ErrorMessage != nil {
			msg = *doc.ErrorMessage
		}
		return nil, fmt.Errorf("%s: %s", path, msg)
	}
	return doc, nil
}

func runReview(ctx context.Context, a *app.App, documentID uuid.UUID, ruleIDs []string) (*service.ReviewResults, error) {
	started, err := a.Reviews.StartReview(ctx, service.StartReviewRequest{DocumentID: documentID, RuleIDs: ruleIDs})
	if err != nil {
		return nil, err
	}
	if err := a.Reviews.Wait(ctx, started.ReviewID); err != nil {
		return nil, err
	}
	return a.Reviews.GetResults(ctx, started.ReviewID)
}

func printResults(cmd *cobra.Command, format string, results *service.ReviewResults) error {
	if format == "json" {
		return writeJSON(cmd, results)
	}
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tSTATUS\tCONFIDENCE\tREASON")
	for _, r := range results.Results {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", r.RuleID, r.Status, r.Confidence, r.Reason)
		for _, ev := range r.Evidence {
			fmt.Fprintf(w, "\t\tp.%d\t%q\n", ev.Page, ev.Quote)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	s := results.Summary
	fmt.Fprintf(out, "\nreview %s %s: %d rules, %d pass, %d risk, %d missing, %d failed\n",
		results.Run.ID, results.Run.Status, s.Total, s.Pass, s.Risk, s.Missing, s.Failed)
	return nil
}

func explainFindings(ctx context.Context, cmd *cobra.Command, a *app.App, results *service.ReviewResults) error {
	out := cmd.OutOrStdout()
	for _, r := range results.Results {
		if r.Status == models.VerdictPass {
			continue
		}
		exp, err := a.Explain.Explain(ctx, service.ExplainRequest{
			ReviewID: results.Run.ID,
			RuleID:   r.RuleID,
			Question: "Why did this rule get this verdict?",
		})
		if err != nil {
			return fmt.Errorf("explain %s: %w", r.RuleID, err)
		}
		fmt.Fprintf(out, "\n[%s] %s\n", r.RuleID, exp.Answer)
		for _, l := range exp.Limitations {
			fmt.Fprintf(out, "  note: %s\n", l)
		}
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
