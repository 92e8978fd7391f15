package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	appannotation "github.com/turtacn/BioAnnotator/internal/application/annotation"
	"github.com/turtacn/BioAnnotator/internal/bootstrap"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

type annotateOptions struct {
	input      string
	documentID string
	organism   string
	categories []string
	manual     bool
}

// NewAnnotateCmd creates the annotate command.
func NewAnnotateCmd() *cobra.Command {
	opts := &annotateOptions{}

	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Annotate one document with the local dictionaries",
		Long: "Reads a document request (JSON with text and per-page character layout),\n" +
			"runs the annotation pipeline and prints the positioned annotations.\n" +
			"Use --input - to read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "document request JSON file, or - for stdin (required)")
	cmd.Flags().StringVar(&opts.documentID, "document-id", "", "override the request's document id")
	cmd.Flags().StringVar(&opts.organism, "organism", "", "taxonomy id tried first for every gene")
	cmd.Flags().StringSliceVar(&opts.categories, "categories", nil, "categories to search (default: request or config)")
	cmd.Flags().BoolVar(&opts.manual, "with-manual", false, "merge stored manual annotations (requires database)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runAnnotate(cmd *cobra.Command, opts *annotateOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}

	req, err := readDocumentRequest(cmd.InOrStdin(), opts.input)
	if err != nil {
		return err
	}
	if opts.documentID != "" {
		req.DocumentID = opts.documentID
	}
	if opts.organism != "" {
		req.Organism = opts.organism
	}
	if len(opts.categories) > 0 {
		cats, err := annotation.ParseCategories(opts.categories)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidParam, "invalid --categories")
		}
		req.Categories = cats
	}

	infra, err := bootstrap.Open(cliCtx.Config, bootstrap.Needs{Postgres: opts.manual, Redis: opts.manual}, cliCtx.Logger)
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

	res, err := svc.Annotate(cmd.Context(), req)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s %s\n", w.Code, w.Message, w.Detail)
	}
	return PrintResult(cmd, annotateOutput{res})
}

func readDocumentRequest(stdin io.Reader, path string) (*appannotation.DocumentRequest, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidParam, "cannot open input").WithDetailf("path=%s", path)
		}
		defer f.Close()
		r = f
	}

	req := &appannotation.DocumentRequest{}
	if err := json.NewDecoder(r).Decode(req); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "malformed document request")
	}
	return req, nil
}

// annotateOutput prints as the raw result in JSON and as a table in text
// mode.
type annotateOutput struct {
	*appannotation.AnnotateResult
}

func (o annotateOutput) TableHeaders() []string {
	return []string{"PAGE", "SPAN", "TYPE", "TEXT", "ID", "ORGANISM", "SOURCE"}
}

func (o annotateOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(o.Annotations))
	for _, a := range o.Annotations {
		rows = append(rows, []string{
			strconv.Itoa(a.PageNumber),
			fmt.Sprintf("%d-%d", a.LoLocationOffset, a.HiLocationOffset),
			string(a.KeywordType),
			a.Text,
			a.ID,
			a.OrganismID,
			string(a.Source),
		})
	}
	return rows
}
