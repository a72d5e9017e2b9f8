package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"redline/internal/canonical"
	"redline/internal/config"
	"redline/internal/contentlog"
	"redline/internal/engine"
	"redline/internal/report"
	"redline/internal/setup"
	"redline/internal/versionstore"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "submit <slot> <file|->",
		Short: "Record a new version of a document and print changes since the first version",
		Long: "Converts the file to canonical text, records it as the slot's newest snapshot " +
			"and rewrites the report. Pass - to read already canonical text from stdin.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, source := args[0], args[1]
			return ctx.withRuntime(cmd.Context(), func(rt *setup.Runtime, cfg config.Config) error {
				var (
					res engine.Result
					err error
				)
				if source == "-" {
					data, readErr := io.ReadAll(cmd.InOrStdin())
					if readErr != nil {
						return fmt.Errorf("read stdin: %w", readErr)
					}
					res, err = rt.Engine.SubmitText(cmd.Context(), slot, string(data))
				} else {
					path, absErr := resolveFile(source)
					if absErr != nil {
						return absErr
					}
					res, err = rt.Engine.Submit(cmd.Context(), slot, path)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if res.Created {
					fmt.Fprintf(out, "Recorded %s snapshot #%d (%s)\n", slot, res.Snapshot.Seq, shortRef(res.Snapshot.Ref))
				} else {
					fmt.Fprintf(out, "Unchanged: %s head is still #%d\n", slot, res.Snapshot.Seq)
				}
				fmt.Fprintf(out, "Report: %s\n\n", res.ReportPath)
				return writeComparison(cmd, res.Comparison, format, cfg.ReportContext)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "Output format: auto, ansi, annotated, porcelain, json")
	return cmd
}

func resolveFile(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file does not exist: %s", absPath)
		}
		return "", fmt.Errorf("inspect file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", absPath)
	}
	return absPath, nil
}

func newDiffCommand(ctx *commandContext) *cobra.Command {
	var format, from, to string
	var contextLines int
	cmd := &cobra.Command{
		Use:   "diff <slot>",
		Short: "Show changes between the first and the latest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot := args[0]
			if (from == "") != (to == "") {
				return errors.New("--from and --to must be given together")
			}
			return ctx.withRuntime(cmd.Context(), func(rt *setup.Runtime, cfg config.Config) error {
				var (
					cmp engine.Comparison
					err error
				)
				if from != "" {
					cmp, err = rt.Engine.CompareRefs(cmd.Context(), slot, from, to)
				} else {
					cmp, err = rt.Engine.Compare(cmd.Context(), slot)
				}
				if errors.Is(err, versionstore.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "No versions of %s recorded yet.\n", slot)
					return nil
				}
				if err != nil {
					return err
				}
				lines := cfg.ReportContext
				if cmd.Flags().Changed("context") {
					lines = contextLines
				}
				return writeComparison(cmd, cmp, format, lines)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "Output format: auto, ansi, annotated, porcelain, json")
	cmd.Flags().StringVar(&from, "from", "", "Snapshot ref to diff from")
	cmd.Flags().StringVar(&to, "to", "", "Snapshot ref to diff to")
	cmd.Flags().IntVar(&contextLines, "context", report.DefaultContext, "Context lines for porcelain output")
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "history <slot>",
		Short: "List recorded versions of a slot, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot := args[0]
			return ctx.withRuntime(cmd.Context(), func(rt *setup.Runtime, _ config.Config) error {
				items, err := rt.Engine.History(cmd.Context(), slot)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No versions of %s recorded yet.\n", slot)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), historyTable(items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func historyTable(items []versionstore.Snapshot) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		role := ""
		switch {
		case item.Seq == items[0].Seq:
			role = "baseline"
		case item.Seq == items[len(items)-1].Seq:
			role = "head"
		}
		rows = append(rows, []string{
			strconv.Itoa(item.Seq),
			shortRef(item.Ref),
			shortRef(item.Hash),
			item.CreatedAt.Local().Format(time.DateTime),
			role,
			contentlog.Subject(item.Message),
		})
	}
	return renderTable(
		[]string{"#", "Ref", "Content", "Recorded", "Role", "Message"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var pdfPath, htmlPath string
	var printArtifact bool
	cmd := &cobra.Command{
		Use:   "report <slot>",
		Short: "Rewrite the change report for a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot := args[0]
			return ctx.withRuntime(cmd.Context(), func(rt *setup.Runtime, _ config.Config) error {
				cmp, err := rt.Engine.Report(cmd.Context(), slot)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if printArtifact {
					fmt.Fprint(out, cmp.Artifact)
				} else {
					fmt.Fprintf(out, "Report written to %s\n", rt.Engine.ReportPath())
				}

				if htmlPath != "" {
					html, err := report.HTML(cmp.Record, slot, time.Now())
					if err != nil {
						return err
					}
					if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
						return fmt.Errorf("write html report: %w", err)
					}
					fmt.Fprintf(out, "HTML report written to %s\n", htmlPath)
				}
				if pdfPath != "" {
					if pdfPath == "auto" {
						pdfPath = report.Filename(slot, "pdf")
					}
					data, err := rt.Engine.PDF(cmd.Context(), slot)
					if err != nil {
						return err
					}
					if err := os.WriteFile(pdfPath, data, 0o644); err != nil {
						return fmt.Errorf("write pdf report: %w", err)
					}
					fmt.Fprintf(out, "PDF report written to %s\n", pdfPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&printArtifact, "print", false, "Print the report instead of its path")
	cmd.Flags().StringVar(&htmlPath, "html", "", "Also write a standalone HTML report to this path")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "Also write a PDF report to this path (\"auto\" names it after the slot)")
	return cmd
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <slot>",
		Short: "Discard a slot's history; the next submission becomes its new baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot := args[0]
			return ctx.withRuntime(cmd.Context(), func(rt *setup.Runtime, _ config.Config) error {
				if err := rt.Engine.Reset(cmd.Context(), slot); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", slot)
				return nil
			})
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify storage, converter and PDF dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows := [][]string{}
			failed := false

			pandoc := canonical.NewPandoc(cfg.PandocPath, cfg.WorkDir)
			rows = append(rows, checkRow("pandoc", pandoc.Check(), cfg.Converter == config.ConverterPandoc, &failed))
			rows = append(rows, checkRow("chromium (pdf)", report.CheckPDF(), false, &failed))

			buildErr := ctx.withRuntime(cmd.Context(), func(rt *setup.Runtime, cfg config.Config) error {
				rows = append(rows, checkRow("converter "+rt.Engine.ConverterName(), nil, true, &failed))
				rows = append(rows, checkRow("storage "+cfg.Backend, rt.Engine.Ping(cmd.Context()), true, &failed))
				return nil
			})
			if buildErr != nil {
				rows = append(rows, checkRow("storage "+cfg.Backend, buildErr, true, &failed))
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
			if failed {
				return errors.New("one or more required checks failed")
			}
			return nil
		},
	}
}

func checkRow(name string, err error, required bool, failed *bool) []string {
	if err == nil {
		return []string{name, "ok", ""}
	}
	status := "missing"
	if required {
		status = "error"
		*failed = true
	}
	return []string{name, status, err.Error()}
}
