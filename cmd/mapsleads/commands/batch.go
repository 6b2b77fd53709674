package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/internal/output"
	"github.com/jmylchreest/mapsleads/internal/sink"
	"github.com/jmylchreest/mapsleads/pkg/places"
)

const defaultQueryFormat = "{term} en {locality} {country}"

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one search per business term and save each result as CSV",
	Long: `Batch runs a search for every business term in one locality. Each
result is appended to <out-dir>/<query>.csv; places whose name is already
in that file are not written again. Configured sinks receive every result.

The query is built from --query-format, where {term}, {locality} and
{country} are replaced.

Examples:
  mapsleads batch --term "peluquería" --term "panadería" \
      --locality Córdoba --country Argentina --out-dir ./leads

  mapsleads batch --terms terms.txt --locality Leeds \
      --query-format "{term} in {locality}" --limit 50`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	flags := batchCmd.Flags()
	flags.StringSlice("term", nil, "business term (repeatable)")
	flags.String("terms", "", "file with one business term per line (# starts a comment)")
	flags.String("locality", "", "city or area")
	flags.String("country", "", "country")
	flags.String("query-format", defaultQueryFormat, "query template")
	flags.IntP("limit", "n", 100, "maximum places per query")
	flags.String("out-dir", ".", "directory for CSV files")
	flags.Bool("no-csv", false, "only write to sinks")

	addCrawlFlags(flags)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	terms, err := batchTerms(viper.GetStringSlice("term"), viper.GetString("terms"))
	if err != nil {
		logger.Error("failed to read terms", "error", err)
		return err
	}
	if len(terms) == 0 {
		return cmd.Help()
	}

	locality := viper.GetString("locality")
	country := viper.GetString("country")
	format := viper.GetString("query-format")
	limit := viper.GetInt("limit")

	client, launcher, err := newClient()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer func() { _ = launcher.Close() }()
	defer func() { _ = client.Close() }()

	sinks, err := openSinks(ctx)
	if err != nil {
		logger.Error("failed to open sinks", "error", err)
		return err
	}
	defer func() { _ = sinks.Close() }()

	var store *output.CSVStore
	if !viper.GetBool("no-csv") {
		store = output.NewCSVStore(viper.GetString("out-dir"))
	}

	total := 0
	for i, term := range terms {
		if ctx.Err() != nil {
			logInfo("Interrupted after %d of %d queries.", i, len(terms))
			break
		}

		query := BuildQuery(format, term, locality, country)
		logger.Info("batch query", "n", i+1, "of", len(terms), "query", query)

		res := client.Search(ctx, query, "", limit)
		reportOutcome(res.State, res.Err)
		fillCity(res.Places, locality)
		total += len(res.Places)

		if store != nil && len(res.Places) > 0 {
			written, err := store.Save(res.Places, query)
			if err != nil {
				logger.Error("csv save failed", "query", query, "error", err)
			} else {
				path, _ := store.Path(query)
				logger.Info("csv saved", "path", path, "written", written, "found", len(res.Places))
			}
		}

		if len(sinks) > 0 && len(res.Places) > 0 {
			if _, err := sinks.Write(context.WithoutCancel(ctx), sink.Batch{Query: query, Places: res.Places}); err != nil {
				logger.Warn("sink write incomplete", "query", query, "error", err)
			}
		}
	}

	logger.Info("batch complete", "queries", len(terms), "places", total)
	return nil
}

// BuildQuery fills a query template.
func BuildQuery(format, term, locality, country string) string {
	if format == "" {
		format = defaultQueryFormat
	}
	r := strings.NewReplacer(
		"{term}", strings.TrimSpace(term),
		"{locality}", strings.TrimSpace(locality),
		"{country}", strings.TrimSpace(country),
	)
	q := strings.Join(strings.Fields(r.Replace(format)), " ")
	// A template like "{term} en {locality}" with no locality leaves a
	// dangling connector.
	for _, connector := range []string{" en", " in"} {
		q = strings.TrimSuffix(q, connector)
	}
	return q
}

// batchTerms merges terms given as flags with those read from a file,
// dropping blanks and repeats.
func batchTerms(flagTerms []string, path string) ([]string, error) {
	all := append([]string(nil), flagTerms...)

	if path != "" {
		f, err := os.Open(path) //#nosec G304 -- user supplied terms file
		if err != nil {
			return nil, fmt.Errorf("failed to open terms file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			all = append(all, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read terms file: %w", err)
		}
	}

	seen := make(map[string]bool, len(all))
	terms := make([]string, 0, len(all))
	for _, t := range all {
		t = strings.TrimSpace(t)
		key := places.NormalizeKeyPart(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, t)
	}
	return terms, nil
}

// fillCity sets the city of places that have none.
func fillCity(ps []places.Place, locality string) {
	locality = strings.TrimSpace(locality)
	if locality == "" {
		return
	}
	for i := range ps {
		if ps[i].City == "" {
			ps[i].City = locality
		}
	}
}
