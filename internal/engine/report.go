package engine

import (
	"strings"

	"memdiag/common"
	"memdiag/internal/config"
	"memdiag/internal/forensics"
	"memdiag/internal/region"
	"memdiag/internal/status"
)

// Reporter receives the periodic reports of an engine.
type Reporter interface {
	Boot(r forensics.BootReport)
	Status(cycle uint32, blocks []status.TestStatus)
	Config(cycle uint32, cfg *config.Config, regions []region.Info)
}

// LogReporter writes reports to a Logger at INFO.
type LogReporter struct {
	log common.Logger
}

// NewLogReporter returns a LogReporter writing to l.
func NewLogReporter(l common.Logger) *LogReporter {
	return &LogReporter{log: l}
}

// Boot does nothing; the forensics store logs the boot report itself.
func (r *LogReporter) Boot(forensics.BootReport) {}

// Status logs one line per counter block.
func (r *LogReporter) Status(cycle uint32, blocks []status.TestStatus) {
	r.log.Logf(common.SeverityInfo, "=== Status, cycle %d ===", cycle)
	for _, s := range blocks {
		r.log.Info(s.String())
	}
}

// Config logs the configuration and the current window of each region.
func (r *LogReporter) Config(cycle uint32, cfg *config.Config, regions []region.Info) {
	var sb strings.Builder
	cfg.Describe(&sb)
	r.log.Logf(common.SeverityInfo, "=== Configuration, cycle %d ===", cycle)
	for _, line := range strings.Split(strings.TrimSpace(sb.String()), "\n") {
		r.log.Info(line)
	}
	for _, i := range regions {
		r.log.Logf(common.SeverityInfo, "%s window 0x%08X size 0x%X", i.ID, i.Start(), i.Window)
	}
}
