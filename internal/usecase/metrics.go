package usecase

import "context"

// MetricsSummary represents aggregated prediction insights.
type MetricsSummary struct {
	TotalJobs    int64   `json:"total_jobs"`
	Pending      int64   `json:"pending"`
	Complete     int64   `json:"complete"`
	Errored      int64   `json:"error"`
	SuccessRate  float64 `json:"success_rate"`
	AverageScore float64 `json:"average_score"`
}

// GetMetricsSummary aggregates prediction metrics from persisted rows.
// Success rate only counts jobs that reached a terminal state.
func (uc *QueryUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, newError(ErrUpstream, "query.metrics_summary", err)
	}

	summary := &MetricsSummary{
		TotalJobs:    aggregation.TotalCount,
		Pending:      aggregation.PendingCount,
		Complete:     aggregation.CompleteCount,
		Errored:      aggregation.ErrorCount,
		AverageScore: aggregation.AverageScore,
	}

	if finished := aggregation.CompleteCount + aggregation.ErrorCount; finished > 0 {
		summary.SuccessRate = float64(aggregation.CompleteCount) / float64(finished)
	}

	return summary, nil
}
