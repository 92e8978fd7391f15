package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/turtacn/BioAnnotator/internal/annotation/dictionary"
	appdictionary "github.com/turtacn/BioAnnotator/internal/application/dictionary"
	"github.com/turtacn/BioAnnotator/internal/bootstrap"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// NewDictionaryCmd creates the dictionary command group.
func NewDictionaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dictionary",
		Short: "Build, inspect and distribute dictionary artifacts",
	}
	cmd.AddCommand(
		newDictionaryBuildCmd(),
		newDictionaryLookupCmd(),
		newDictionaryStatusCmd(),
		newDictionaryPullCmd(),
		newDictionaryPushCmd(),
	)
	return cmd
}

// ─────────────────────────────────────────────────────────────────────────────
// build
// ─────────────────────────────────────────────────────────────────────────────

type dictionaryBuildOptions struct {
	category string
	input    string
	dest     string
	quiet    bool
}

func newDictionaryBuildCmd() *cobra.Command {
	opts := &dictionaryBuildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile a term list into a category artifact",
		Long: "Reads tab-separated lines of the form\n\n" +
			"  term<TAB>entity_id<TAB>id_type[<TAB>name]\n\n" +
			"and installs the compiled artifact atomically.  Blank lines and lines\n" +
			"starting with '#' are ignored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDictionaryBuild(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.category, "category", "", "entity category (required)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "TSV term list (required)")
	cmd.Flags().StringVarP(&opts.dest, "dest", "d", "", "artifact path (default: the configured dictionary location)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "hide the progress bar")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// buildSummary is printed after a successful build.
type buildSummary struct {
	Category annotation.Category `json:"category"`
	Path     string              `json:"path"`
	Lines    int                 `json:"lines"`
	Keys     int                 `json:"keys"`
	Skipped  int                 `json:"skipped"`
}

func (s buildSummary) String() string {
	return fmt.Sprintf("built %s dictionary: %d keys from %d lines (%d skipped) -> %s",
		s.Category, s.Keys, s.Lines, s.Skipped, s.Path)
}

func runDictionaryBuild(cmd *cobra.Command, opts *dictionaryBuildOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	c, err := annotation.ParseCategory(opts.category)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidParam, "invalid --category")
	}

	f, err := os.Open(opts.input)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidParam, "cannot open input").WithDetailf("path=%s", opts.input)
	}
	defer f.Close()

	var r io.Reader = f
	var bar *progressbar.ProgressBar
	if !opts.quiet {
		size := int64(-1)
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
		bar = progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("building "+string(c)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		pr := progressbar.NewReader(f, bar)
		r = &pr
	}

	b := dictionary.NewBuilder(c)
	summary, err := readTermList(r, b, cliCtx.Logger)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	path := opts.dest
	if path == "" {
		path = bootstrap.RegistryConfig(cliCtx.Config).Path(c)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "cannot create dictionary directory")
		}
	}
	if err := dictionary.Install(path, b.Bytes()); err != nil {
		return err
	}

	summary.Category = c
	summary.Path = path
	summary.Keys = b.Len()
	return PrintResult(cmd, summary)
}

// readTermList feeds every well-formed line into b.  Malformed lines are
// logged and counted, not fatal.
func readTermList(r io.Reader, b *dictionary.Builder, logger logging.Logger) (buildSummary, error) {
	var s buildSummary
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		s.Lines++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 || strings.TrimSpace(fields[0]) == "" || strings.TrimSpace(fields[1]) == "" {
			s.Skipped++
			logger.Debug("skipping malformed term line", logging.Int("line", s.Lines))
			continue
		}
		entry := annotation.DictionaryEntry{
			EntityID: strings.TrimSpace(fields[1]),
			IDType:   strings.TrimSpace(fields[2]),
		}
		if len(fields) > 3 {
			entry.Name = strings.TrimSpace(fields[3])
		}
		b.Add(fields[0], entry)
	}
	if err := sc.Err(); err != nil {
		return s, errors.Wrap(err, errors.CodeInvalidParam, "failed to read term list")
	}
	return s, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// lookup / status
// ─────────────────────────────────────────────────────────────────────────────

func newDictionaryLookupCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "lookup <term>...",
		Short: "Look terms up in one category artifact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDictionaryLookup(cmd, category, args)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "entity category (required)")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

type lookupRow struct {
	Term    string                       `json:"term"`
	Key     string                       `json:"key"`
	Entries []annotation.DictionaryEntry `json:"entries"`
}

type lookupOutput []lookupRow

func (o lookupOutput) TableHeaders() []string {
	return []string{"TERM", "KEY", "ENTITY_ID", "ID_TYPE", "NAME"}
}

func (o lookupOutput) TableRows() [][]string {
	var rows [][]string
	for _, r := range o {
		if len(r.Entries) == 0 {
			rows = append(rows, []string{r.Term, r.Key, "-", "", ""})
			continue
		}
		for _, e := range r.Entries {
			rows = append(rows, []string{r.Term, r.Key, e.EntityID, e.IDType, e.Name})
		}
	}
	return rows
}

func runDictionaryLookup(cmd *cobra.Command, category string, terms []string) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	c, err := annotation.ParseCategory(category)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidParam, "invalid --category")
	}

	store, err := dictionary.Open(c, bootstrap.RegistryConfig(cliCtx.Config).Path(c))
	if err != nil {
		return err
	}
	defer store.Close()

	out := make(lookupOutput, 0, len(terms))
	for _, term := range terms {
		key := annotation.NormalizeKey(term)
		entries, err := store.Lookup(key)
		if err != nil {
			return err
		}
		out = append(out, lookupRow{Term: term, Key: key, Entries: entries})
	}
	return PrintResult(cmd, out)
}

func newDictionaryStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which category artifacts are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDictionaryStatus(cmd)
		},
	}
}

type statusRow struct {
	Category  annotation.Category `json:"category"`
	Path      string              `json:"path"`
	Available bool                `json:"available"`
	Keys      int                 `json:"keys"`
	Error     string              `json:"error,omitempty"`
}

type statusOutput []statusRow

func (o statusOutput) TableHeaders() []string {
	return []string{"CATEGORY", "AVAILABLE", "KEYS", "PATH"}
}

func (o statusOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(o))
	for _, r := range o {
		rows = append(rows, []string{string(r.Category), strconv.FormatBool(r.Available), strconv.Itoa(r.Keys), r.Path})
	}
	return rows
}

func runDictionaryStatus(cmd *cobra.Command) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	regCfg := bootstrap.RegistryConfig(cliCtx.Config)

	out := make(statusOutput, 0, len(annotation.AllCategories))
	for _, c := range annotation.AllCategories {
		row := statusRow{Category: c, Path: regCfg.Path(c)}
		store, err := dictionary.Open(c, row.Path)
		if err != nil {
			row.Error = err.Error()
		} else {
			row.Available = true
			row.Keys = store.Len()
			_ = store.Close()
		}
		out = append(out, row)
	}
	return PrintResult(cmd, out)
}

// ─────────────────────────────────────────────────────────────────────────────
// pull / push
// ─────────────────────────────────────────────────────────────────────────────

func newDictionaryPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Install changed artifacts from the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDictionarySync(cmd, func(s *appdictionary.Syncer) (*appdictionary.Report, error) {
				return s.Pull(cmd.Context())
			})
		},
	}
}

func newDictionaryPushCmd() *cobra.Command {
	var categories []string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Publish local artifacts to the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := annotation.ParseCategories(categories)
			if err != nil {
				return errors.Wrap(err, errors.CodeInvalidParam, "invalid --categories")
			}
			return runDictionarySync(cmd, func(s *appdictionary.Syncer) (*appdictionary.Report, error) {
				return s.Push(cmd.Context(), cats...)
			})
		},
	}
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "categories to publish (default: all)")
	return cmd
}

type syncOutput struct {
	*appdictionary.Report
}

func (o syncOutput) TableHeaders() []string { return []string{"CATEGORY", "RESULT", "DETAIL"} }

func (o syncOutput) TableRows() [][]string {
	var rows [][]string
	for _, c := range o.Installed {
		rows = append(rows, []string{string(c), "updated", ""})
	}
	for _, c := range o.Skipped {
		rows = append(rows, []string{string(c), "skipped", ""})
	}
	for _, c := range o.FailedCategories() {
		rows = append(rows, []string{string(c), "failed", o.Failed[c]})
	}
	return rows
}

func runDictionarySync(cmd *cobra.Command, op func(*appdictionary.Syncer) (*appdictionary.Report, error)) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	infra, err := bootstrap.Open(cliCtx.Config, bootstrap.Needs{MinIO: true, Redis: true}, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	syncer, err := bootstrap.BuildSyncer(cliCtx.Config, infra, nil, cliCtx.Logger)
	if err != nil {
		return err
	}
	report, err := op(syncer)
	if err != nil {
		return err
	}
	if err := PrintResult(cmd, syncOutput{report}); err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return errors.New(errors.ErrCodeExternalService, "some dictionaries failed to sync").
			WithDetailf("categories=%v", report.FailedCategories())
	}
	return nil
}
