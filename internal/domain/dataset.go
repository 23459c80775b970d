package domain

import (
	"context"
	"time"
)

// Dataset is a named set of items to be labeled
type Dataset struct {
	ID          int64
	Name        string
	Description string
	MultiSelect bool
	CreatedAt   time.Time
}

// CatalogRepository provides datasets and their live item id lists
type CatalogRepository interface {
	// CreateDataset stores a dataset with a freshly allocated id
	CreateDataset(ctx context.Context, name, description string, multiSelect bool) (*Dataset, error)

	// GetDataset returns the dataset or nil when it does not exist
	GetDataset(ctx context.Context, id int64) (*Dataset, error)

	// GetDatasetByName returns the dataset or nil when it does not exist
	GetDatasetByName(ctx context.Context, name string) (*Dataset, error)

	// ListDatasets returns every dataset ordered by id
	ListDatasets(ctx context.Context) ([]*Dataset, error)

	// SetMultiSelect toggles the multi-select mode of a dataset
	SetMultiSelect(ctx context.Context, id int64, multiSelect bool) error

	// AddItems links item ids to a dataset, ignoring ones already linked
	AddItems(ctx context.Context, datasetID int64, itemIDs []int64) (int64, error)

	// ListItems returns the item ids of a dataset in ascending order
	ListItems(ctx context.Context, datasetID int64) ([]int64, error)

	// CountItems returns how many items a dataset has
	CountItems(ctx context.Context, datasetID int64) (int64, error)

	// DeleteDataset removes a dataset and its item links
	DeleteDataset(ctx context.Context, id int64) error
}
