package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Bot, VAD and engagement changes apply to sessions started after the
// reload; RestartRequired lists changed sections that only take effect on
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BotChanged        bool
	VADChanged        bool
	EngagementChanged bool

	// BackfillChanged is set when the backfill schedule or concurrency moved.
	BackfillChanged bool

	RestartRequired []string
}

// HasChanges reports whether anything at all differs.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.BotChanged || d.VADChanged || d.EngagementChanged ||
		d.BackfillChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.BotChanged = !reflect.DeepEqual(old.Bot, new.Bot)
	d.VADChanged = old.VAD != new.VAD
	d.EngagementChanged = old.Engagement != new.Engagement
	d.BackfillChanged = old.Transcripts.BackfillSchedule != new.Transcripts.BackfillSchedule ||
		old.Transcripts.BackfillConcurrency != new.Transcripts.BackfillConcurrency

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if !reflect.DeepEqual(oldSrv, newSrv) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Daily != new.Daily {
		d.RestartRequired = append(d.RestartRequired, "daily")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Transcripts.Dir != new.Transcripts.Dir ||
		old.Transcripts.AnalysisDir != new.Transcripts.AnalysisDir ||
		old.Transcripts.AnalyzeOnEnd != new.Transcripts.AnalyzeOnEnd {
		d.RestartRequired = append(d.RestartRequired, "transcripts")
	}

	return d
}
