package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/sqlite"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// NewOrganismCmd creates the organism command group.
func NewOrganismCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "organism",
		Short: "Maintain the local gene/organism binding store",
	}
	cmd.AddCommand(newOrganismImportCmd())
	return cmd
}

type organismImportOptions struct {
	input  string
	db     string
	source string
	quiet  bool
}

func newOrganismImportCmd() *cobra.Command {
	opts := &organismImportOptions{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load gene/organism bindings into the SQLite tier-one store",
		Long: "Reads tab-separated lines of the form\n\n" +
			"  gene<TAB>organism_tax_id<TAB>gene_id\n\n" +
			"and upserts them into the store named by --db or organism.sqlite_path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrganismImport(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "TSV binding list (required)")
	cmd.Flags().StringVar(&opts.db, "db", "", "SQLite database path (default: organism.sqlite_path)")
	cmd.Flags().StringVar(&opts.source, "source", "import", "provenance recorded with each binding")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "hide the progress bar")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runOrganismImport(cmd *cobra.Command, opts *organismImportOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	path := opts.db
	if path == "" {
		path = cliCtx.Config.Organism.SQLitePath
	}
	if path == "" {
		return errors.New(errors.CodeInvalidParam, "no SQLite path: pass --db or set organism.sqlite_path")
	}

	f, err := os.Open(opts.input)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidParam, "cannot open input").WithDetailf("path=%s", opts.input)
	}
	defer f.Close()

	bindings, err := readBindings(f, opts.source)
	if err != nil {
		return err
	}

	store, err := sqlite.OpenOrganismStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	progress := func() {}
	if !opts.quiet {
		bar := progressbar.NewOptions(len(bindings),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("importing bindings"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		progress = func() { _ = bar.Add(1) }
	}

	if err := store.Import(cmd.Context(), bindings, progress); err != nil {
		return err
	}
	total, err := store.Count(cmd.Context())
	if err != nil {
		return err
	}
	PrintSuccess(cmd, fmt.Sprintf("imported %d bindings into %s (%d total)", len(bindings), path, total))
	return nil
}

// readBindings parses the TSV binding list.  Unlike term lists, a malformed
// line aborts the import: a half-loaded tier silently changes resolution.
func readBindings(r io.Reader, source string) ([]sqlite.Binding, error) {
	var out []sqlite.Binding
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 3 {
			return nil, errors.New(errors.CodeInvalidParam, "malformed binding line").WithDetailf("line=%d", line)
		}
		b := sqlite.Binding{
			Gene:     strings.TrimSpace(fields[0]),
			Organism: strings.TrimSpace(fields[1]),
			GeneID:   strings.TrimSpace(fields[2]),
			Source:   source,
		}
		if b.Gene == "" || b.Organism == "" || b.GeneID == "" {
			return nil, errors.New(errors.CodeInvalidParam, "empty field in binding line").WithDetailf("line=%d", line)
		}
		out = append(out, b)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "failed to read bindings")
	}
	return out, nil
}
