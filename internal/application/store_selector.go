package application

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// SelectStore picks the catalog store the service binds to for its whole
// lifetime: the one named by override, otherwise the first available. It
// returns nil when no store is available.
func SelectStore(stores []output.CatalogStore, override string, logger *slog.Logger) (output.CatalogStore, error) {
	if len(stores) == 0 {
		logger.Warn("no catalog store available")
		return nil, nil
	}

	if override != "" {
		for _, s := range stores {
			if strings.EqualFold(s.Name(), override) {
				logger.Info("selected catalog store", "store", s.Name(), "override", true)
				return s, nil
			}
		}
		names := make([]string, 0, len(stores))
		for _, s := range stores {
			names = append(names, s.Name())
		}
		return nil, &domain.ConfigError{
			Field:   "catalog.store",
			Message: fmt.Sprintf("unknown store %q, available: %s", override, strings.Join(names, ", ")),
		}
	}

	logger.Info("selected catalog store", "store", stores[0].Name(), "override", false)
	return stores[0], nil
}
