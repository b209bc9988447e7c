package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/history"
	"github.com/enterprise/fraud-scorer/internal/ingestion"
	"github.com/enterprise/fraud-scorer/internal/metrics"
	"github.com/enterprise/fraud-scorer/internal/models"
)

// Stage of a pipeline run
type Stage int

const (
	StageIdle Stage = iota
	StageIndexing
	StageEvaluating
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageIndexing:
		return "indexing"
	case StageEvaluating:
		return "evaluating"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ErrPipelineBusy is returned when Run is called on a pipeline that is
// already indexing or evaluating.
var ErrPipelineBusy = errors.New("scoring pipeline is busy")

// Result is the output of a completed run
type Result struct {
	RunID        string
	Transactions []models.ScoredTransaction
	Summary      models.DetectionSummary
	index        *history.Index
}

// Pipeline scores a batch of transactions: Idle -> Indexing -> Evaluating -> Done.
// A Pipeline runs one batch at a time and may be reused after a run ends.
type Pipeline struct {
	rules       *RuleSet
	parser      *ingestion.Parser
	concurrency int

	mu    sync.Mutex
	stage Stage
}

// NewPipeline creates a pipeline from validated scoring configuration
func NewPipeline(cfg configs.ScoringConfig) *Pipeline {
	return NewPipelineWithRules(NewRuleSet(ThresholdsFromConfig(cfg)), cfg.Location(), cfg.Concurrency)
}

// NewPipelineWithRules creates a pipeline over an explicit rule set
func NewPipelineWithRules(rules *RuleSet, loc *time.Location, concurrency int) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		rules:       rules,
		parser:      ingestion.NewParser(loc),
		concurrency: concurrency,
	}
}

// Rules returns the rule set the pipeline evaluates
func (p *Pipeline) Rules() *RuleSet {
	return p.rules
}

// Stage returns the current stage
func (p *Pipeline) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

func (p *Pipeline) setStage(runID string, s Stage) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
	log.Debug().Str("run_id", runID).Str("stage", s.String()).Msg("Pipeline stage changed")
}

// Run parses rows and scores them. Either every row is scored or an error is
// returned with no results.
func (p *Pipeline) Run(ctx context.Context, rows []ingestion.RawRow) (*Result, error) {
	runID, err := p.begin()
	if err != nil {
		return nil, err
	}

	records, err := p.parser.ParseAll(rows)
	if err != nil {
		metrics.IngestionErrorsTotal.Inc()
		return nil, p.fail(runID, err)
	}
	return p.score(ctx, runID, records)
}

// Score scores records that were already parsed. RowIndex must equal each
// record's slice position.
func (p *Pipeline) Score(ctx context.Context, records []models.TransactionRecord) (*Result, error) {
	runID, err := p.begin()
	if err != nil {
		return nil, err
	}
	for i, r := range records {
		if r.RowIndex != i {
			return nil, p.fail(runID, fmt.Errorf("record %d has row index %d", i, r.RowIndex))
		}
	}
	return p.score(ctx, runID, records)
}

func (p *Pipeline) begin() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage == StageIndexing || p.stage == StageEvaluating {
		return "", ErrPipelineBusy
	}
	p.stage = StageIndexing

	runID := uuid.New().String()
	log.Debug().Str("run_id", runID).Str("stage", StageIndexing.String()).Msg("Pipeline stage changed")
	return runID, nil
}

func (p *Pipeline) fail(runID string, err error) error {
	p.setStage(runID, StageFailed)
	metrics.RunsTotal.WithLabelValues("failed").Inc()
	log.Error().Err(err).Str("run_id", runID).Msg("Scoring run failed")
	return err
}

func (p *Pipeline) score(ctx context.Context, runID string, records []models.TransactionRecord) (*Result, error) {
	startTime := time.Now()

	idx := history.Build(records)
	users := idx.Users()

	log.Info().
		Str("run_id", runID).
		Int("transactions", idx.Len()).
		Int("users", len(users)).
		Int("concurrency", p.concurrency).
		Msg("Starting scoring run")

	p.setStage(runID, StageEvaluating)

	scored, err := p.evaluate(ctx, idx, users)
	if err != nil {
		return nil, p.fail(runID, fmt.Errorf("failed to evaluate transactions: %w", err))
	}

	elapsed := time.Since(startTime)
	summary := Summarize(runID, scored, len(users), p.rules.Rules(), elapsed)
	p.setStage(runID, StageDone)

	metrics.RunsTotal.WithLabelValues("done").Inc()
	metrics.RunDuration.Observe(elapsed.Seconds())
	metrics.TransactionsScored.Add(float64(summary.TotalTransactions))
	metrics.TransactionsFlagged.Add(float64(summary.FlaggedTransactions))
	for _, rc := range summary.RuleTriggers {
		metrics.RuleTriggersTotal.WithLabelValues(rc.RuleID).Add(float64(rc.Count))
	}

	log.Info().
		Str("run_id", runID).
		Int("transactions", summary.TotalTransactions).
		Int("flagged", summary.FlaggedTransactions).
		Float64("max_score", summary.MaxRiskScore).
		Int64("processing_ms", summary.ProcessingTimeMs).
		Msg("Scoring run completed")

	return &Result{
		RunID:        runID,
		Transactions: scored,
		Summary:      summary,
		index:        idx,
	}, nil
}

// evaluate fans users out to a bounded set of workers. Each user is owned by
// exactly one worker and walked in sorted order; results land at RowIndex.
func (p *Pipeline) evaluate(ctx context.Context, idx *history.Index, users []string) ([]models.ScoredTransaction, error) {
	results := make([]models.ScoredTransaction, idx.Len())

	workers := p.concurrency
	if workers > len(users) {
		workers = len(users)
	}

	userCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.ActiveWorkers.Inc()
			defer metrics.ActiveWorkers.Dec()

			for user := range userCh {
				p.evaluateUser(idx.Cursor(user), results)
			}
		}()
	}

	var err error
feed:
	for _, user := range users {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case userCh <- user:
		}
	}
	close(userCh)
	wg.Wait()

	if err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) evaluateUser(cur *history.Cursor, results []models.ScoredTransaction) {
	th := p.rules.Thresholds()
	for ; cur.Next(); cur.Advance() {
		tx := cur.Current()
		ev := &Evaluation{
			Tx:     tx,
			Amount: tx.AmountValue(),
			Stats:  snapshot(tx, cur.History(), cur.HistoryAmounts(), cur.SortedHistoryAmounts(), cur.SeenMerchant(tx.MerchantName), th),
		}
		results[tx.RowIndex] = annotate(tx, p.rules.Evaluate(ev))
		metrics.RiskScore.Observe(results[tx.RowIndex].RiskScore)
	}
}

func annotate(tx models.TransactionRecord, outcomes []models.RuleOutcome) models.ScoredTransaction {
	score, triggered, explanation := Aggregate(outcomes)
	return models.ScoredTransaction{
		TransactionRecord: tx,
		RiskScore:         score,
		RiskLevel:         DetermineRiskLevel(score),
		TriggeredRules:    triggered,
		Explanation:       explanation,
	}
}

// Explanation is the full evaluation of one row of a finished run
type Explanation struct {
	Transaction models.ScoredTransaction `json:"transaction"`
	Stats       models.StatSnapshot      `json:"stats"`
	Outcomes    []models.RuleOutcome     `json:"outcomes"`
}

// Explain re-evaluates a single row of res from its history-so-far and
// returns every rule outcome, not just the triggered ones.
func (p *Pipeline) Explain(res *Result, rowIndex int) (*Explanation, error) {
	if res == nil || res.index == nil || rowIndex < 0 || rowIndex >= res.index.Len() {
		return nil, fmt.Errorf("row %d is not part of the run", rowIndex)
	}

	tx := res.Transactions[rowIndex].TransactionRecord
	hist := res.index.HistoryFor(rowIndex)

	amounts := make([]float64, len(hist))
	seen := false
	key := history.MerchantKey(tx.MerchantName)
	for i, h := range hist {
		amounts[i] = h.AmountValue()
		if history.MerchantKey(h.MerchantName) == key {
			seen = true
		}
	}

	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)

	ev := &Evaluation{
		Tx:     tx,
		Amount: tx.AmountValue(),
		Stats:  snapshot(tx, hist, amounts, sorted, seen, p.rules.Thresholds()),
	}
	outcomes := p.rules.Evaluate(ev)

	return &Explanation{
		Transaction: annotate(tx, outcomes),
		Stats:       ev.Stats,
		Outcomes:    outcomes,
	}, nil
}
