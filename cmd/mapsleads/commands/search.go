package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mapsleads/internal/crawler"
	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/internal/output"
	"github.com/jmylchreest/mapsleads/internal/sink"
	"github.com/jmylchreest/mapsleads/pkg/fetcher"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the map directory and print the places found",
	Long: `Search runs one query, walks the results feed until the limit is
reached or the feed is exhausted, and writes the places found.

A search never fails because of the site: a blocked page, a closed
browser or an interrupt only shortens the result.

Examples:
  mapsleads search "cafes" --locality Madrid --limit 20
  mapsleads search "bike shops" -l Utrecht --format geojson -o shops.geojson
  mapsleads search "bakeries" -l Lyon --enrich static --verify-mx --stats`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	flags := searchCmd.Flags()
	flags.StringP("locality", "l", "", "city or area appended to the query")
	flags.IntP("limit", "n", 20, "maximum number of places")

	// Output settings
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "json", "output format: json, jsonl, yaml, geojson, csv")
	flags.Bool("pretty", true, "indent json and geojson output")
	flags.Bool("stats", false, "print crawl statistics to stderr")

	addCrawlFlags(flags)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	query := strings.Join(args, " ")
	locality := viper.GetString("locality")
	limit := viper.GetInt("limit")

	format, err := output.ParseFormat(viper.GetString("format"))
	if err != nil {
		logger.Error("invalid output format", "error", err)
		return err
	}

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

	// Setup output
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

	writer, err := output.NewWriter(outFile, format, output.WithPretty(viper.GetBool("pretty")))
	if err != nil {
		logger.Error("failed to create output writer", "format", format, "error", err)
		return err
	}
	defer func() { _ = writer.Close() }()

	logger.Info("starting search",
		"query", query,
		"locality", locality,
		"limit", limit,
		"enrich", client.EnrichMode())

	res := client.Search(ctx, query, locality, limit)
	reportOutcome(res.State, res.Err)

	if err := writer.WriteAll(res.Places); err != nil {
		logger.Error("failed to write output", "error", err)
		return err
	}
	if err := writer.Flush(); err != nil {
		logger.Error("failed to write output", "error", err)
		return err
	}

	if len(sinks) > 0 && len(res.Places) > 0 {
		// The search context may already be cancelled; stores still get
		// the partial result.
		n, err := sinks.Write(context.WithoutCancel(ctx), sink.Batch{Query: searchName(query, locality), Places: res.Places})
		if err != nil {
			logger.Warn("sink write incomplete", "error", err)
		}
		logger.Info("stored", "new", n, "places", len(res.Places))
	}

	if viper.GetBool("stats") {
		printStats(res.Stats)
	}

	logger.Info("search complete",
		"places", len(res.Places),
		"state", res.State,
		"enriched", res.Stats.Enriched)
	return nil
}

// searchName is the name results are stored under.
func searchName(query, locality string) string {
	return strings.TrimSpace(strings.TrimSpace(query) + " " + strings.TrimSpace(locality))
}

// reportOutcome explains an aborted search to the user.
func reportOutcome(state crawler.State, err error) {
	if state != crawler.Aborted || err == nil {
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		logInfo("Interrupted, keeping the places found so far.")
	case errors.Is(err, fetcher.ErrAntiBot):
		logInfo("The site refused automated access (%v); try again later or use --proxy.", err)
	default:
		logInfo("Search stopped early: %v", err)
	}
}

func printStats(stats crawler.Stats) {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stderr, string(data))
}
