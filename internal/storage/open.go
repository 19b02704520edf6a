package storage

import (
	"fmt"
	"strings"

	logx "prodtrack/pkg/logx"
)

// Open builds the store for the configured driver. A (nil, nil) return
// means storage is disabled; callers treat a nil Store as "no
// persistence".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
