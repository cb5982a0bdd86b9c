package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/spf13/cobra"

	"github.com/fpz2018/gli/internal/catalog"
	"github.com/fpz2018/gli/internal/triage"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "glictl",
		Short:         "Inspect GLI triage catalogs and score answer sets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCatalogCommand(), newRecommendCommand(), newVersionCommand())
	return root
}

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with question catalogs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Load a catalog and print a summary (built-in catalog when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.LoadOrDefault(firstArg(args))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), c)
			return nil
		},
	})

	var format string
	export := &cobra.Command{
		Use:   "export [file]",
		Short: "Write a catalog in normalized form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.LoadOrDefault(firstArg(args))
			if err != nil {
				return err
			}
			return catalog.Encode(cmd.OutOrStdout(), c, catalog.Format(format))
		},
	}
	export.Flags().StringVarP(&format, "format", "f", string(catalog.FormatYAML), "output format (yaml or json)")
	cmd.AddCommand(export)

	return cmd
}

func newRecommendCommand() *cobra.Command {
	var (
		catalogFile string
		answers     []string
		strict      bool
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Score an answer set and print the recommendation as JSON",
		Example: "  glictl recommend --answer medische_conditie=diabetes2 --answer bmi=bmi_30_plus\n" +
			"  glictl recommend --catalog catalog.yaml --strict -a motivatie=hoog",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := catalog.LoadOrDefault(catalogFile)
			if err != nil {
				return err
			}
			set, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			if strict {
				if err := checkAnswers(c, set); err != nil {
					return err
				}
			}

			out, err := json.MarshalIndent(triage.Recommend(c, set), "", "  ")
			if err != nil {
				return fmt.Errorf("encode recommendation: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVarP(&catalogFile, "catalog", "c", "", "YAML or JSON catalog (default: built-in)")
	cmd.Flags().StringArrayVarP(&answers, "answer", "a", nil, "answer as question=option, repeatable")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject answers that are not in the catalog")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v.AppName = "glictl"
			vi := v.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit=%s, go=%s)\n", vi.AppName, vi.Version, vi.Commit, vi.GoVersion)
		},
	}
}

// parseAnswers turns question=option pairs into an answer set. A later pair
// for the same question replaces an earlier one.
func parseAnswers(pairs []string) (triage.AnswerSet, error) {
	set := make(triage.AnswerSet, len(pairs))
	for _, p := range pairs {
		q, o, ok := strings.Cut(p, "=")
		q, o = strings.TrimSpace(q), strings.TrimSpace(o)
		if !ok || q == "" || o == "" {
			return nil, fmt.Errorf("invalid answer %q: want question=option", p)
		}
		set[q] = o
	}
	return set, nil
}

func checkAnswers(c *triage.Catalog, set triage.AnswerSet) error {
	var errs []error
	for q, o := range set {
		if err := c.CheckAnswer(q, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func printSummary(w io.Writer, c *triage.Catalog) {
	cats := make([]string, 0, len(c.Categories()))
	for _, cat := range c.Categories() {
		cats = append(cats, string(cat))
	}
	fmt.Fprintf(w, "categories: %s\n", strings.Join(cats, ", "))
	fmt.Fprintf(w, "questions:  %d\n", c.Len())
	for _, q := range c.Questions() {
		fmt.Fprintf(w, "  %-24s %d options\n", q.ID, len(q.Options))
	}
	for _, p := range c.Programs() {
		fmt.Fprintf(w, "program %s: %s\n", p.Category, p.Title)
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
