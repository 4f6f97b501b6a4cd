package pipeline

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// TimeKeeper records when a transaction passed each phase.
type TimeKeeper struct {
	ProposedTime  int64
	EndorsedTime  int64
	BroadcastTime int64
	ObservedTime  int64

	operation string
	logger    *log.Entry
	metrics   *Metrics
}

func newTimeKeeper(operation string, logger *log.Entry, metrics *Metrics) *TimeKeeper {
	return &TimeKeeper{operation: operation, logger: logger, metrics: metrics}
}

func (tk *TimeKeeper) keepProposedTime() {
	tk.ProposedTime = time.Now().UnixNano()
	tk.logger.WithField("at", tk.ProposedTime).Debug("Proposed")
}

func (tk *TimeKeeper) keepEndorsedTime() {
	tk.EndorsedTime = time.Now().UnixNano()
	tk.logger.WithField("at", tk.EndorsedTime).Debug("Endorsed")
	tk.observe("endorse", tk.EndorsedTime-tk.ProposedTime)
}

func (tk *TimeKeeper) keepBroadcastTime() {
	tk.BroadcastTime = time.Now().UnixNano()
	tk.logger.WithField("at", tk.BroadcastTime).Debug("Broadcast")
	tk.observe("order", tk.BroadcastTime-tk.EndorsedTime)
}

func (tk *TimeKeeper) keepObservedTime() {
	tk.ObservedTime = time.Now().UnixNano()
	tk.logger.WithField("at", tk.ObservedTime).Debug("Observed")
	tk.observe("commit", tk.ObservedTime-tk.EndorsedTime)
	tk.observe("total", tk.ObservedTime-tk.ProposedTime)
}

// Latency is the time from proposal to the last observed event.
func (tk *TimeKeeper) Latency() time.Duration {
	end := tk.ObservedTime
	if end == 0 {
		end = tk.BroadcastTime
	}
	if end == 0 {
		end = tk.EndorsedTime
	}
	if end < tk.ProposedTime {
		return 0
	}
	return time.Duration(end - tk.ProposedTime)
}

func (tk *TimeKeeper) observe(phase string, nanos int64) {
	if tk.metrics == nil || nanos < 0 {
		return
	}
	tk.metrics.observePhase(tk.operation, phase, float64(nanos)/1e9)
}
