package build

import (
	"fmt"
	"time"
)

// Profile describes the build configuration for the final summary line.
type Profile struct {
	Release   bool
	Optimized bool
	DebugInfo bool
}

// Summary renders "dev [unoptimized + debuginfo] target(s) in 1.05s".
func (p Profile) Summary(elapsed time.Duration) string {
	buildType := "dev"
	if p.Release {
		buildType = "release"
	}
	opt := "unoptimized"
	if p.Optimized {
		opt = "optimized"
	}
	if p.DebugInfo {
		opt += " + debuginfo"
	}
	return fmt.Sprintf("%s [%s] target(s) in %s", buildType, opt, FormatElapsed(elapsed))
}

// FormatElapsed prints seconds with centisecond precision below a minute,
// and minutes plus zero-padded seconds from a minute on.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	if secs >= 60 {
		return fmt.Sprintf("%dm %02ds", secs/60, secs%60)
	}
	centis := int64(d%time.Second) / int64(10*time.Millisecond)
	return fmt.Sprintf("%d.%02ds", secs, centis)
}
