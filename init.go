package logkit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dogmatiq/logkit/internal/locator"
	"github.com/dogmatiq/logkit/internal/syncx"
	"github.com/dogmatiq/logkit/internal/telemetry"
)

var (
	initOnce syncx.SucceedOnce
	level    slog.LevelVar
)

// Initialize prepares the process-wide resources used by clients. It must be
// called before [Connect] or [NewClient].
//
// It is safe to call Initialize more than once. Once it has succeeded,
// subsequent calls have no effect.
func Initialize() error {
	return initOnce.Do(func() error {
		if !slices.Contains(sql.Drivers(), locator.PostgresDriver) {
			return fmt.Errorf("the %q database driver is not registered", locator.PostgresDriver)
		}

		telemetry.SetLevel(level.Level())

		return nil
	})
}

// SetDebugLevel sets the minimum level of the diagnostic messages emitted by
// clients within the process.
//
// It has no effect on the records or gaps delivered to readers.
func SetDebugLevel(l slog.Level) {
	level.Set(l)
	telemetry.SetLevel(l)
}

// DebugLevel returns the [slog.Leveler] that reflects the level most recently
// passed to [SetDebugLevel].
func DebugLevel() slog.Leveler {
	return &level
}
