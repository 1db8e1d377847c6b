// Package obs contains observability utilities such as logging and metrics.
package obs

import (
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

// Logger returns the named subsystem logger.
func Logger(system string) *logging.ZapEventLogger {
	return logging.Logger(system)
}

// InitLogger configures every subsystem logger. format is "json" or "text".
func InitLogger(level, format string) error {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return xerrors.Errorf("parse log level %q: %w", level, err)
	}
	cfg := logging.Config{
		Format: logging.JSONOutput,
		Level:  lvl,
		Stderr: true,
	}
	if format == "text" {
		cfg.Format = logging.PlaintextOutput
	}
	logging.SetupLogging(cfg)
	return nil
}
