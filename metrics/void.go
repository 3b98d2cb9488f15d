package metrics

import (
	"net/http"
	"time"
)

type voidMetrics struct{}

// Void discards all metrics.
var Void Metrics = voidMetrics{}

func (voidMetrics) MeasureResolve(string, time.Time)       {}
func (voidMetrics) MeasureEndpoint(string, int, time.Time) {}
func (voidMetrics) MeasureServe(string, int, time.Time)    {}
func (voidMetrics) IncFragments(string, bool)              {}
func (voidMetrics) IncRecursionRejected()                  {}
func (voidMetrics) IncCache(string, bool)                  {}
func (voidMetrics) RegisterHandler(string, *http.ServeMux) {}
