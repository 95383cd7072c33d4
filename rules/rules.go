//go:build ruleguard

// Package gorules defines custom linter rules for this repository.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// LoggerErrorField flags errors logged through logger.Any, which loses the
// error key that log processing keys on.
//
//	log.Warn("publish failed", logger.Any("error", err))
//
// should be
//
//	log.Warn("publish failed", logger.Error(err))
func LoggerErrorField(m dsl.Matcher) {
	m.Import("github.com/trackwatch/trackwatch/internal/logger")

	m.Match(`logger.Any($_, $err)`).
		Where(m["err"].Type.Implements("error")).
		Report("use logger.Error($err) for error values").
		Suggest("logger.Error($err)")
}

// WallClockInPipeline flags direct wall clock reads in packages that take a
// timeutil.Clock, since tests drive those packages with a MockClock.
func WallClockInPipeline(m dsl.Matcher) {
	m.Match(`time.Now()`, `time.Since($_)`, `time.Sleep($_)`).
		Where(m.File().PkgPath.Matches(`/internal/(alert|anomaly|dataset|diagnostics|pipeline)$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("use the injected timeutil.Clock instead of the wall clock")
}

// BackgroundPublish flags MQTT publishes without a deadline.
func BackgroundPublish(m dsl.Matcher) {
	m.Import("github.com/trackwatch/trackwatch/internal/mqtt")

	m.Match(`$c.Publish(context.Background(), $*_)`, `$c.Publish(context.TODO(), $*_)`).
		Where(m["c"].Type.Implements("mqtt.Client")).
		Report("publish with a context carrying the publish timeout")
}

// WaitGroupGo detects the manual Add/Done pattern and suggests wg.Go (Go 1.25+).
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done pattern (Go 1.25+)").
		Suggest("$wg.Go(func() { $body })")
}
