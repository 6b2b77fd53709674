package commands

import (
	"context"
	"errors"
	"os"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/internal/output"
	"github.com/jmylchreest/mapsleads/pkg/extractor"
	"github.com/jmylchreest/mapsleads/pkg/places"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file.html>...",
	Short: "Run the field extractor against saved HTML",
	Long: `Extract applies the detail extraction strategies to saved pages, without
a browser. Use it to tune a strategy file against pages saved from the
browser ("Save page as", complete HTML).

Examples:
  mapsleads extract detail.html
  mapsleads extract detail.html --strategies strategies.yaml --explain
  mapsleads extract results.html --each 'div[role="article"]' --format csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	flags := extractCmd.Flags()
	flags.String("strategies", "", "YAML or JSON file overriding detail extraction strategies")
	flags.String("url", "", "page URL, used for relative links and URL strategies")
	flags.String("each", "", "extract one record per element matching this selector")
	flags.Bool("explain", false, "log which strategy produced each field")
	flags.String("format", "json", "output format: json, jsonl, yaml, geojson, csv")
	flags.StringP("output", "o", "", "output file (default: stdout)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := extractor.DefaultConfig()
	if path := viper.GetString("strategies"); path != "" {
		loaded, err := extractor.LoadConfig(path)
		if err != nil {
			logger.Error("failed to load strategies", "path", path, "error", err)
			return err
		}
		cfg = loaded
	}
	ext, err := extractor.New(cfg)
	if err != nil {
		logger.Error("invalid strategies", "error", err)
		return err
	}

	format, err := output.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	outFile := os.Stdout
	if outPath := viper.GetString("output"); outPath != "" {
		f, err := os.Create(outPath) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			logger.Error("failed to create output file", "path", outPath, "error", err)
			return err
		}
		defer func() { _ = f.Close() }()
		outFile = f
	}
	writer, err := output.NewWriter(outFile, format)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	explain := viper.GetBool("explain")
	each := viper.GetString("each")
	pageURL := viper.GetString("url")

	total := 0
	for _, path := range args {
		doc, err := openDocument(path, pageURL)
		if err != nil {
			logger.Error("failed to read page", "path", path, "error", err)
			return err
		}

		sources := []*extractor.DocumentSource{doc}
		if each != "" {
			sources = sources[:0]
			doc.Doc.Find(each).Each(func(_ int, sel *goquery.Selection) {
				sources = append(sources, doc.Within(sel))
			})
			logger.Debug("elements matched", "path", path, "selector", each, "count", len(sources))
		}

		for i, src := range sources {
			p, err := extractOne(ctx, ext, src, explain)
			if errors.Is(err, extractor.ErrMissingName) {
				logger.Warn("no name found, record skipped", "path", path, "element", i)
				continue
			}
			if err != nil {
				return err
			}
			if err := writer.Write(p); err != nil {
				return err
			}
			total++
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	logger.Info("extraction complete", "files", len(args), "records", total)
	return nil
}

func openDocument(path, pageURL string) (*extractor.DocumentSource, error) {
	f, err := os.Open(path) //#nosec G304 -- user supplied page
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return extractor.NewDocumentSource(f, pageURL)
}

// extractOne resolves a record, logging the winning strategy per field when
// explain is set.
func extractOne(ctx context.Context, ext *extractor.Extractor, src extractor.Source, explain bool) (places.Place, error) {
	snap, err := src.Snapshot(ctx, ext.Config().Fields)
	if err != nil {
		return places.Place{}, err
	}
	p, report, err := ext.Resolve(snap)
	if err != nil {
		return places.Place{}, err
	}
	if explain {
		for _, field := range report.Fields() {
			logInfo("%-14s %s", field+":", report[field])
		}
		logInfo("-> %s", p)
	}
	return p, nil
}
