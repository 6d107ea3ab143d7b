// Package cost implements the per-run, per-stage USD-equivalent cost
// accounting described in spec §4.8. Pricing is monitoring-only: the
// product itself is flat-rate subscription, so a crossed budget halts the
// pipeline rather than producing a bill.
package cost

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadirpekel/resagent/pkg/pipeline"
)

// Rates are USD per 1,000 tokens.
type Rates struct {
	InputPer1K  float64
	OutputPer1K float64
}

// DefaultRates is a conservative placeholder rate table; production
// deployments override it from agent config.
var DefaultRates = Rates{InputPer1K: 0.003, OutputPer1K: 0.015}

// StageRecord is one stage's accumulated cost.
type StageRecord struct {
	StageID    int
	Usage      pipeline.Usage
	CostUSD    float64
	Iterations int
}

// Report is the output of GenerateReport.
type Report struct {
	Stages          []StageRecord
	TotalCostUSD    float64
	BudgetUSD       float64
	UtilizationPct  float64
	Rates           Rates
}

// Tracker accumulates token usage per stage across repair iterations and
// enforces a soft USD budget. It is a per-run, mutable object owned by
// the Orchestrator Driver - the one piece of the pipeline that is
// intentionally not immutable, since nothing outside the driver ever
// holds a reference to an older Tracker value.
type Tracker struct {
	mu        sync.Mutex
	budgetUSD float64
	rates     Rates
	byStage   map[int]*StageRecord

	costGauge        *prometheus.GaugeVec
	utilizationGauge prometheus.Gauge
}

// New constructs a Tracker for one pipeline run.
func New(budgetUSD float64, rates Rates) *Tracker {
	return &Tracker{
		budgetUSD: budgetUSD,
		rates:     rates,
		byStage:   map[int]*StageRecord{},
	}
}

// WithMetrics attaches Prometheus gauges; safe to call with nil metrics
// (e.g. in tests) since RecordStage guards every use.
func (t *Tracker) WithMetrics(costGauge *prometheus.GaugeVec, utilizationGauge prometheus.Gauge) *Tracker {
	t.costGauge = costGauge
	t.utilizationGauge = utilizationGauge
	return t
}

func (r Rates) costOf(u pipeline.Usage) float64 {
	return float64(u.InputTokens)/1000*r.InputPer1K + float64(u.OutputTokens)/1000*r.OutputPer1K
}

// RecordStage accumulates usage for a stage, adding to any prior
// recording for the same stage (repair iterations included) rather than
// overwriting it.
func (t *Tracker) RecordStage(stageID int, usage pipeline.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.byStage[stageID]
	if !ok {
		rec = &StageRecord{StageID: stageID}
		t.byStage[stageID] = rec
	}
	rec.Usage = rec.Usage.Add(usage)
	rec.Iterations++
	rec.CostUSD = t.rates.costOf(rec.Usage)

	if t.costGauge != nil {
		t.costGauge.WithLabelValues(stageLabel(stageID)).Set(rec.CostUSD)
	}
	if t.utilizationGauge != nil && t.budgetUSD > 0 {
		t.utilizationGauge.Set(t.totalCostLocked() / t.budgetUSD)
	}
}

func stageLabel(id int) string {
	switch id {
	case 0:
		return "analyze_query"
	case 1:
		return "websearch_calibration"
	case 2:
		return "retrieve"
	case 3:
		return "synthesize"
	case 4:
		return "verify"
	case 5:
		return "output"
	default:
		return "unknown"
	}
}

func (t *Tracker) totalCostLocked() float64 {
	var total float64
	for _, rec := range t.byStage {
		total += rec.CostUSD
	}
	return total
}

// WithinBudget returns true iff cumulative cost is strictly under the
// configured budget. A zero budget is immediately exceeded on the first
// recorded usage.
func (t *Tracker) WithinBudget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budgetUSD <= 0 {
		return len(t.byStage) == 0
	}
	return t.totalCostLocked() < t.budgetUSD
}

// GenerateReport returns per-stage records sorted by stage id, totals,
// and utilization percentage.
func (t *Tracker) GenerateReport() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	stages := make([]StageRecord, 0, len(t.byStage))
	for _, rec := range t.byStage {
		stages = append(stages, *rec)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].StageID < stages[j].StageID })

	total := t.totalCostLocked()
	var utilization float64
	if t.budgetUSD > 0 {
		utilization = total / t.budgetUSD * 100
	}

	return Report{
		Stages:         stages,
		TotalCostUSD:   total,
		BudgetUSD:      t.budgetUSD,
		UtilizationPct: utilization,
		Rates:          t.rates,
	}
}
