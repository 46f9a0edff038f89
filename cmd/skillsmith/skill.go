package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillsmith/pkg/assemble"
	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/presenter"
	"github.com/jingkaihe/skillsmith/pkg/skills"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect and maintain assembled skills",
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assembled skills",
	RunE: func(cmd *cobra.Command, _ []string) error {
		match, _ := cmd.Flags().GetStringSlice("match")
		return runSkillList(cmd.Context(), cmd.OutOrStdout(), match)
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a skill and its references",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSkillShow(cmd.OutOrStdout(), args[0])
	},
}

var skillPolishCmd = &cobra.Command{
	Use:   "polish <name>",
	Short: "Rewrite a skill's metadata and overview with the generation backend",
	Long: `Ask the generation backend to improve a skill's description, triggers and
overview. A rewrite that changes the skill's identifier or category is rejected
and the stored skill is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSkillPolish(cmd.Context(), args[0])
	},
}

func init() {
	skillListCmd.Flags().StringSlice("match", nil, "Only list skills whose name matches the glob (repeatable)")

	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
	skillCmd.AddCommand(withTracing(skillPolishCmd))
}

func runSkillList(ctx context.Context, w io.Writer, patterns []string) error {
	catalog, err := skills.NewCatalog(ctx, cfg.SkillsDir, patterns...)
	if err != nil {
		return err
	}
	idx := catalog.Index()

	for _, warn := range idx.Warnings {
		presenter.Warning(warn.Error())
	}
	if idx.Len() == 0 {
		presenter.Info("no skills in " + cfg.SkillsDir)
		return nil
	}
	for _, s := range idx.List() {
		fmt.Fprintf(w, "%-32s %-18s %3d refs  %s\n", s.Name, s.Category, len(s.References), s.Description)
	}
	return nil
}

func runSkillShow(w io.Writer, name string) error {
	s, err := newAssembler().Load(name)
	if err != nil {
		return errors.Wrapf(err, "failed to load skill %s", name)
	}

	fmt.Fprintf(w, "%s (%s)\n", s.Title, s.Name)
	fmt.Fprintf(w, "category:    %s (confidence %.2f)\n", s.Category, s.Confidence)
	if s.Source != "" {
		fmt.Fprintf(w, "source:      %s [%s]\n", s.Source, s.Address)
	}
	fmt.Fprintf(w, "directory:   %s\n\n%s\n", s.Directory, s.Description)
	if len(s.Triggers) > 0 {
		fmt.Fprintln(w, "\nTriggers:")
		for _, t := range s.Triggers {
			fmt.Fprintf(w, "  - %s\n", t)
		}
	}
	if len(s.References) > 0 {
		fmt.Fprintln(w, "\nReferences:")
		for _, r := range s.References {
			pages := ""
			if r.Pages != "" {
				pages = " (pages " + r.Pages + ")"
			}
			fmt.Fprintf(w, "  %4d  %-8s %s%s\n", r.Chunk, r.Region, r.Path, pages)
		}
	}
	return nil
}

func runSkillPolish(ctx context.Context, name string) error {
	gen, err := backend.New(ctx, cfg.Backend)
	if err != nil {
		return errors.Wrap(err, "failed to create generation backend")
	}

	s, err := newAssembler().Polish(ctx, gen, name)
	var integrity *assemble.IntegrityError
	if errors.As(err, &integrity) {
		presenter.Warning(fmt.Sprintf("rewrite of %s rejected, previous version kept:\n%s", name, integrity.Diff))
		return nil
	}
	if err != nil {
		return err
	}
	presenter.Success("polished " + s.Name)
	return nil
}
