package annotation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lewtec/marcador/internal/domain"
	"github.com/lewtec/marcador/internal/repository"
)

// GetDatabase opens the SQLite database described by cfg
func GetDatabase(cfg DatabaseConfig) (*sql.DB, error) {
	return repository.Open(cfg.Path, cfg.BusyTimeout)
}

// PrepareDatabase applies pending migrations and raises the counters to the
// largest ids already stored, so ids handed out afterwards never collide with
// existing rows.
func (a *App) PrepareDatabase(ctx context.Context) error {
	a.Logger.Info("PrepareDatabase: applying migrations")
	if err := repository.Migrate(a.Database); err != nil {
		return err
	}
	version, dirty, err := repository.SchemaVersion(a.Database)
	if err != nil {
		return fmt.Errorf("while reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty, fix it by hand before starting", version)
	}
	a.Logger.Info("PrepareDatabase: schema ready", "version", version)

	if _, err := a.Sequences.Bootstrap(ctx, a.Config.Sequence.RecordCounter); err != nil {
		return fmt.Errorf("while bootstrapping %s: %w", a.Config.Sequence.RecordCounter, err)
	}
	datasets, err := a.Catalog.ListDatasets(ctx)
	if err != nil {
		return fmt.Errorf("while listing datasets: %w", err)
	}
	var maxDataset int64
	for _, ds := range datasets {
		maxDataset = max(maxDataset, ds.ID)
	}
	if err := a.Sequences.Seed(ctx, domain.CounterDataset, maxDataset); err != nil {
		return fmt.Errorf("while seeding %s: %w", domain.CounterDataset, err)
	}
	a.Logger.Info("PrepareDatabase: success", "datasets", len(datasets))
	return nil
}
