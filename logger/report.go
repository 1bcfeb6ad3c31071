package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

var (
	errorsTotal  int64
	warnsTotal   int64
	tradesTotal  int64
	cyclesTotal  int64
	perComponent sync.Map // map[string]*int64, errors per component
)

func recordWarn(string) {
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(component string) {
	atomic.AddInt64(&errorsTotal, 1)
	v, _ := perComponent.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// RecordTrade bumps the executed-trade counter included in the periodic report.
func RecordTrade() {
	atomic.AddInt64(&tradesTotal, 1)
}

// RecordCycle bumps the poll-cycle counter included in the periodic report.
func RecordCycle() {
	atomic.AddInt64(&cyclesTotal, 1)
}

// StartReport periodically logs a summary of error, warning, cycle and trade
// counters. The report gives a single heartbeat line for long-running
// deployments where individual log entries are rotated away.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fields := Fields{
					"errors": atomic.LoadInt64(&errorsTotal),
					"warns":  atomic.LoadInt64(&warnsTotal),
					"cycles": atomic.LoadInt64(&cyclesTotal),
					"trades": atomic.LoadInt64(&tradesTotal),
				}
				perComponent.Range(func(k, v interface{}) bool {
					if n := atomic.LoadInt64(v.(*int64)); n > 0 {
						fields["errors_"+k.(string)] = n
					}
					return true
				})
				log.WithComponent("report").WithFields(fields).Info("status report")
			}
		}
	}()
}
