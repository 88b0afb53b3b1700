package metrics

// MetricsWrapper adapts Metrics to the narrow interface the predictor
// records through, so the ml package never sees Prometheus types.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) MLPredictionsAdd(n int) {
	w.m.MLPredictions.Add(float64(n))
}

func (w *MetricsWrapper) MLFailuresInc() {
	w.m.MLFailures.Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(seconds float64) {
	w.m.MLLatency.Observe(seconds)
}

func (w *MetricsWrapper) MLModelAgeSet(seconds float64) {
	w.m.MLModelAge.Set(seconds)
}

func (w *MetricsWrapper) MLAccuracyObserve(accuracy float64) {
	w.m.MLAccuracy.Observe(accuracy)
}

func (w *MetricsWrapper) MLPredictionScoresObserve(score float64) {
	w.m.MLPredictionScores.Observe(score)
}

func (w *MetricsWrapper) MLFallbackUseInc() {
	w.m.MLFallbackUse.Inc()
}
