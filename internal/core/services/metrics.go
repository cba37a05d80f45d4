package services

import "rolechat/internal/core/ports"

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordTokenIssued(bool)              {}
func (NopMetrics) RecordTokenRefused(string)           {}
func (NopMetrics) RecordRoleStep(string, string, bool) {}
func (NopMetrics) RecordRealtimeConnection(int)        {}
func (NopMetrics) RecordRealtimeMessage(string)        {}

var _ ports.MetricsRecorder = NopMetrics{}

func metricsOrNop(m ports.MetricsRecorder) ports.MetricsRecorder {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
