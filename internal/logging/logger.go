package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithPromotion returns a logger with promotion context fields attached.
// Use this for all logging within a promotion job.
func WithPromotion(jobID, userID, expert string) *slog.Logger {
	return slog.With(
		"job_id", jobID,
		"user_id", userID,
		"expert", expert,
	)
}

// WithContextBuild returns a logger scoped to one context assembly.
func WithContextBuild(userID, project, activeHat string) *slog.Logger {
	return slog.With(
		"user_id", userID,
		"project", project,
		"active_hat", activeHat,
	)
}
