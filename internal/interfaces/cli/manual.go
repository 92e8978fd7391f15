package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	appannotation "github.com/turtacn/BioAnnotator/internal/application/annotation"
	"github.com/turtacn/BioAnnotator/internal/bootstrap"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// NewManualCmd creates the manual annotation command group.
func NewManualCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manual",
		Short: "Manage manual inclusions and exclusions",
	}
	cmd.AddCommand(
		newManualAddExclusionCmd(),
		newManualAddInclusionCmd(),
		newManualListCmd(),
		newManualRemoveCmd(),
	)
	return cmd
}

// withService opens the database-backed service for the duration of fn.
func withService(cmd *cobra.Command, fn func(appannotation.Service) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	if cliCtx.Config.Database.Host == "" {
		return errors.New(errors.CodeInvalidParam, "manual annotations need database.host")
	}
	infra, err := bootstrap.Open(cliCtx.Config, bootstrap.Needs{Postgres: true, Redis: true}, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	annotator, err := bootstrap.BuildAnnotator(cliCtx.Config, infra, nil, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer annotator.Close()

	svc, err := bootstrap.BuildService(annotator, infra, nil, nil, cliCtx.Logger)
	if err != nil {
		return err
	}
	return fn(svc)
}

type manualFlags struct {
	document      string
	text          string
	category      string
	entityID      string
	idType        string
	page          int
	applyToAll    bool
	caseSensitive bool
	reason        string
	comment       string
	author        string
}

func (f *manualFlags) annotation(kind annotation.ManualKind) (*annotation.ManualAnnotation, error) {
	m := &annotation.ManualAnnotation{
		Kind:          kind,
		Scope:         annotation.ScopeGlobal,
		DocumentID:    f.document,
		TextValue:     f.text,
		EntityID:      f.entityID,
		IDType:        f.idType,
		PageNumber:    f.page,
		ApplyToAll:    f.applyToAll,
		CaseSensitive: f.caseSensitive,
		Reason:        f.reason,
		Comment:       f.comment,
		CreatedBy:     f.author,
	}
	if f.document != "" {
		m.Scope = annotation.ScopeLocal
	}
	if f.category != "" {
		c, err := annotation.ParseCategory(f.category)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidParam, "invalid --category")
		}
		m.Category = c
	}
	return m, nil
}

func newManualAddExclusionCmd() *cobra.Command {
	f := &manualFlags{}
	cmd := &cobra.Command{
		Use:   "add-exclusion",
		Short: "Suppress a term everywhere, or in one document with --document",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := f.annotation(annotation.KindExclusion)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc appannotation.Service) error {
				saved, err := svc.AddManual(cmd.Context(), m)
				if err != nil {
					return err
				}
				return PrintResult(cmd, manualOutput{*saved})
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.text, "text", "", "term to exclude (required)")
	fl.StringVar(&f.document, "document", "", "limit the exclusion to one document")
	fl.StringVar(&f.category, "category", "", "only exclude matches of this category")
	fl.BoolVar(&f.caseSensitive, "case-sensitive", false, "match the term's case exactly")
	fl.StringVar(&f.reason, "reason", "", "why the term is excluded")
	fl.StringVar(&f.comment, "comment", "", "free-form note")
	fl.StringVar(&f.author, "author", "", "user recorded as creator")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newManualAddInclusionCmd() *cobra.Command {
	f := &manualFlags{}
	cmd := &cobra.Command{
		Use:   "add-inclusion",
		Short: "Annotate a term in one document with a chosen entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := f.annotation(annotation.KindInclusion)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc appannotation.Service) error {
				saved, err := svc.AddManual(cmd.Context(), m)
				if err != nil {
					return err
				}
				return PrintResult(cmd, manualOutput{*saved})
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.document, "document", "", "document the inclusion belongs to (required)")
	fl.StringVar(&f.text, "text", "", "term to annotate (required)")
	fl.StringVar(&f.category, "category", "", "entity category (required)")
	fl.StringVar(&f.entityID, "entity-id", "", "entity identifier (required)")
	fl.StringVar(&f.idType, "id-type", annotation.IDTypeCustom, "identifier namespace")
	fl.IntVar(&f.page, "page", 0, "page the term was selected on")
	fl.BoolVar(&f.applyToAll, "all", false, "annotate every occurrence in the document")
	fl.BoolVar(&f.caseSensitive, "case-sensitive", false, "match the term's case exactly")
	fl.StringVar(&f.author, "author", "", "user recorded as creator")
	for _, name := range []string{"document", "text", "category", "entity-id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newManualListCmd() *cobra.Command {
	var document string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List global exclusions, plus one document's overlays with --document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc appannotation.Service) error {
				overlays, err := svc.ListManual(cmd.Context(), document)
				if err != nil {
					return err
				}
				return PrintResult(cmd, overlayOutput{overlays})
			})
		},
	}
	cmd.Flags().StringVar(&document, "document", "", "document whose local overlays to include")
	return cmd
}

func newManualRemoveCmd() *cobra.Command {
	var (
		id     string
		global bool
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a manual annotation by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := annotation.ScopeLocal
			if global {
				scope = annotation.ScopeGlobal
			}
			return withService(cmd, func(svc appannotation.Service) error {
				if err := svc.RemoveManual(cmd.Context(), id, scope); err != nil {
					return err
				}
				PrintSuccess(cmd, "removed "+id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "manual annotation id (required)")
	cmd.Flags().BoolVar(&global, "global", false, "the annotation is a global exclusion")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

var manualHeaders = []string{"ID", "KIND", "SCOPE", "DOCUMENT", "TEXT", "CATEGORY", "ENTITY_ID", "ALL"}

func manualRow(m annotation.ManualAnnotation) []string {
	return []string{
		m.ID, string(m.Kind), string(m.Scope), m.DocumentID, m.TextValue,
		string(m.Category), m.EntityID, strconv.FormatBool(m.ApplyToAll),
	}
}

type manualOutput struct {
	annotation.ManualAnnotation
}

func (o manualOutput) TableHeaders() []string { return manualHeaders }
func (o manualOutput) TableRows() [][]string  { return [][]string{manualRow(o.ManualAnnotation)} }

type overlayOutput struct {
	*annotation.Overlays
}

func (o overlayOutput) TableHeaders() []string { return manualHeaders }

func (o overlayOutput) TableRows() [][]string {
	var rows [][]string
	for _, list := range [][]annotation.ManualAnnotation{o.GlobalExclusions, o.LocalExclusions, o.LocalInclusions} {
		for _, m := range list {
			rows = append(rows, manualRow(m))
		}
	}
	return rows
}
