package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scop-orders/config"
	"github.com/aluiziolira/go-scop-orders/pipeline"
	"github.com/aluiziolira/go-scop-orders/scraper"
)

type batchOptions struct {
	codesFile    string
	siteKey      string
	output       string
	format       string
	parallel     int
	maxSessions  int
	fixture      bool
	reportPeriod time.Duration
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch [authorization-code...]",
		Short: "Query many authorization codes and write the rows to a file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, cmd.Flags(), opts.apply)
			if err != nil {
				return err
			}
			codes := args
			if opts.codesFile != "" {
				fromFile, err := readCodes(opts.codesFile)
				if err != nil {
					return err
				}
				codes = append(codes, fromFile...)
			}
			codes = uniqueCodes(codes)
			if len(codes) == 0 {
				return errors.New("no authorization codes given")
			}
			return runBatch(cmd.Context(), cfg, codes, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.codesFile, "codes", "", "File with one authorization code per line")
	f.StringVar(&opts.siteKey, "site", "", "Site key used for every code (default DEFAULT_SITE_KEY)")
	f.StringVar(&opts.output, "output", "", "Output file path")
	f.StringVar(&opts.format, "format", "", "Output format: csv, json, or dual")
	f.IntVar(&opts.parallel, "parallel", 0, "Number of concurrent queries")
	f.IntVar(&opts.maxSessions, "max-sessions", 0, "Maximum concurrent portal sessions")
	f.BoolVar(&opts.fixture, "fixture", false, "Use the fixture record instead of querying the portal")
	f.DurationVar(&opts.reportPeriod, "report", 10*time.Second, "Progress log interval in verbose mode")
	return cmd
}

func (o *batchOptions) apply(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("output") {
		cfg.OutputFile = o.output
	}
	if flags.Changed("format") {
		cfg.OutputFormat = strings.ToLower(o.format)
	}
	if flags.Changed("parallel") {
		cfg.Parallelism = o.parallel
	}
	if flags.Changed("max-sessions") {
		cfg.MaxSessions = o.maxSessions
	}
	if flags.Changed("fixture") {
		cfg.FixtureMode = o.fixture
	}
}

// batchResult tallies query outcomes across the run.
type batchResult struct {
	mu           sync.Mutex
	queries      int
	empty        int
	failed       []string
	errorsByType map[string]int
}

func (r *batchResult) record(code string, empty bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	switch {
	case err != nil:
		if r.errorsByType == nil {
			r.errorsByType = make(map[string]int)
		}
		r.errorsByType[scraper.ErrorType(err)]++
		r.failed = append(r.failed, code)
	case empty:
		r.empty++
	}
}

func runBatch(ctx context.Context, cfg *config.Config, codes []string, opts *batchOptions) error {
	logger := setupLogging(cfg.Verbose)

	svc, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("close writer", slog.Any("error", err))
		}
	}()

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(opts.reportPeriod)
	}

	logger.Info("starting batch",
		slog.Int("codes", len(codes)),
		slog.Int("workers", cfg.Parallelism),
		slog.String("output", cfg.OutputFile),
	)

	startTime := time.Now()
	result := &batchResult{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for _, code := range codes {
		g.Go(func() error {
			res, err := svc.scraper.Query(gctx, scraper.InboundRequest{AuthorizationCode: code, SiteKey: opts.siteKey})
			if err != nil {
				result.record(code, false, err)
				if scraper.IsClientError(err) {
					return err
				}
				return nil
			}
			result.record(code, len(res.Rows) == 0, nil)
			return p.Process(res.Rows...)
		})
	}
	runErr := g.Wait()

	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	if runErr != nil {
		return runErr
	}
	if err := writer.Validate(); err != nil {
		if !errors.Is(err, pipeline.ErrNoRows) {
			return fmt.Errorf("output validation failed: %w", err)
		}
		logger.Warn("no rows written", slog.String("output", cfg.OutputFile))
	}

	printSummary(result, time.Since(startTime), cfg.OutputFile, p.GetMetrics())
	return nil
}

func readCodes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open codes file: %w", err)
	}
	defer f.Close()

	var codes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		codes = append(codes, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read codes file: %w", err)
	}
	return codes, nil
}

// uniqueCodes trims codes and drops blanks and repeats, keeping first-seen order.
func uniqueCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func printSummary(result *batchResult, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Batch complete")

	totalRows := int64(0)
	if processed, ok := metrics["processed_rows"].(int64); ok {
		totalRows = processed
	}

	fmt.Printf("  Queries:       %d\n", result.queries)
	fmt.Printf("  Rows written:  %d\n", totalRows)
	fmt.Printf("  Empty:         %d\n", result.empty)
	successRate := 0.0
	if result.queries > 0 {
		successRate = float64(result.queries-len(result.failed)) / float64(result.queries) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	if len(result.failed) > 0 {
		sort.Strings(result.failed)
		fmt.Printf("  Failed codes:  %v\n", result.failed)
	}
	if len(result.errorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.errorsByType)
	}
	if detailErrors, ok := metrics["detail_errors"].(int64); ok && detailErrors > 0 {
		fmt.Printf("  Detail errors: %d\n", detailErrors)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}
