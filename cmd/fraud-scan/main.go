package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/ingestion"
	"github.com/enterprise/fraud-scorer/internal/output"
	"github.com/enterprise/fraud-scorer/internal/scoring"
	"github.com/enterprise/fraud-scorer/internal/services"
)

// Exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitSinkError = 2
)

type options struct {
	input       string
	output      string
	flaggedOnly bool
	sortByRisk  bool
	summary     bool
	explainRow  int
}

type batchPublisher interface {
	Publish(ctx context.Context, batch output.Batch) error
}

// errSinks marks a run whose results were written but not fully delivered
var errSinks = errors.New("result sinks failed")

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	var opts options
	flag.StringVar(&opts.input, "input", "-", "transactions CSV file, - for stdin")
	flag.StringVar(&opts.output, "output", "-", "scored CSV file, - for stdout")
	flag.BoolVar(&opts.flaggedOnly, "flagged-only", cfg.Output.FlaggedOnly, "write only rows that triggered a rule")
	flag.BoolVar(&opts.sortByRisk, "sort-by-risk", cfg.Output.SortByRisk, "sort rows by risk score, highest first")
	flag.BoolVar(&opts.summary, "summary", false, "print the detection summary to stderr")
	flag.IntVar(&opts.explainRow, "explain-row", -1, "print every rule outcome for this 0-based row to stderr")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		os.Exit(exitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, cfg, opts)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, cfg *configs.Config, opts options) int {
	in, closeIn, err := openInput(opts.input)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open input")
		return exitFailure
	}
	defer closeIn()

	sinks, err := services.NewSinkService(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect result sinks")
		return exitFailure
	}
	defer sinks.Close()

	out, err := openOutput(opts.output)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open output")
		return exitFailure
	}

	err = scan(ctx, cfg.Scoring, opts, in, out, os.Stderr, sinks)
	if err != nil && !errors.Is(err, errSinks) {
		out.Abort()
		log.Error().Err(err).Msg("Scan failed")
		return exitFailure
	}
	if cerr := out.Commit(); cerr != nil {
		log.Error().Err(cerr).Str("path", opts.output).Msg("Failed to write output")
		return exitFailure
	}
	if err != nil {
		log.Error().Err(err).Msg("Scan finished but results were not delivered to every sink")
		return exitSinkError
	}
	return exitOK
}

// scan reads, scores and writes one batch. Sink failures are reported after
// the output has been written.
func scan(ctx context.Context, cfg configs.ScoringConfig, opts options, in io.Reader, out, diag io.Writer, sink batchPublisher) error {
	rows, err := ingestion.ReadCSV(in)
	if err != nil {
		return err
	}

	pipeline := scoring.NewPipeline(cfg)
	res, err := pipeline.Run(ctx, rows)
	if err != nil {
		return err
	}

	policy := output.Policy{FlaggedOnly: opts.flaggedOnly, SortByRisk: opts.sortByRisk}
	if err := output.WriteCSV(out, policy.Apply(res.Transactions)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if opts.summary {
		if err := output.WriteSummary(diag, res.Summary); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}

	if opts.explainRow >= 0 {
		explanation, err := pipeline.Explain(res, opts.explainRow)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(diag)
		enc.SetIndent("", "  ")
		if err := enc.Encode(explanation); err != nil {
			return fmt.Errorf("failed to write explanation: %w", err)
		}
	}

	if sink != nil {
		batch := output.Batch{RunID: res.RunID, Transactions: res.Transactions, Summary: res.Summary}
		if err := sink.Publish(ctx, batch); err != nil {
			return fmt.Errorf("%w: %w", errSinks, err)
		}
	}
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// outputFile stages a file output in a temporary file next to path. The
// destination is only replaced on Commit, so a failed run leaves it untouched.
type outputFile struct {
	io.Writer
	tmp  *os.File
	path string
}

func openOutput(path string) (*outputFile, error) {
	if path == "-" {
		return &outputFile{Writer: os.Stdout}, nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, err
	}
	return &outputFile{Writer: tmp, tmp: tmp, path: path}, nil
}

// Commit moves the staged output into place
func (o *outputFile) Commit() error {
	if o.tmp == nil {
		return nil
	}
	if err := o.tmp.Close(); err != nil {
		os.Remove(o.tmp.Name())
		return err
	}
	if err := os.Rename(o.tmp.Name(), o.path); err != nil {
		os.Remove(o.tmp.Name())
		return err
	}
	return nil
}

// Abort discards the staged output
func (o *outputFile) Abort() {
	if o.tmp == nil {
		return
	}
	o.tmp.Close()
	if err := os.Remove(o.tmp.Name()); err != nil {
		log.Warn().Err(err).Str("path", o.tmp.Name()).Msg("Failed to remove staged output")
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
