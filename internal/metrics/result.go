package metrics

import (
	"time"

	"github.com/hitoshi/taskhub/internal/model"
)

// ResultLabel はエラーをメトリクスの result ラベルに変換する。
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if model.KindOf(err) != model.KindServerError {
		return "rejected"
	}
	return "failed"
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordHTTPStatus(int)                   {}
func (Nop) RecordRequestLatency(time.Duration)     {}
func (Nop) RecordAccessDenied(string)              {}
func (Nop) RecordIntegrityOperation(string, error) {}
func (Nop) RecordRepairFixes(string, int)          {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
