package annotation

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lewtec/marcador/internal/domain"
	"gopkg.in/yaml.v3"
)

// CatalogFile describes datasets and their items, as read by `marcador catalog import`
//
//	datasets:
//	  - name: birds
//	    multi_select: true
//	    items: [101, 102, 103]
//	  - name: rotation
//	    range: {from: 1, to: 500}
type CatalogFile struct {
	Datasets []*CatalogDataset `yaml:"datasets"`
}

type CatalogDataset struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	MultiSelect bool          `yaml:"multi_select"`
	Items       []int64       `yaml:"items"`
	Range       *CatalogRange `yaml:"range"`
}

// MaxRangeItems bounds how many item ids one catalog range may expand to
const MaxRangeItems = 1_000_000

// CatalogRange is an inclusive range of item ids
type CatalogRange struct {
	From int64 `yaml:"from"`
	To   int64 `yaml:"to"`
}

// ItemIDs returns the explicit items followed by the range, if any
func (d *CatalogDataset) ItemIDs() []int64 {
	ids := append([]int64(nil), d.Items...)
	if r := d.Range; r != nil && r.From <= r.To {
		for id := r.From; ; id++ {
			ids = append(ids, id)
			if id == r.To {
				break
			}
		}
	}
	return ids
}

func LoadCatalog(filename string) (*CatalogFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var ret CatalogFile
	if err := yaml.Unmarshal(data, &ret); err != nil {
		return nil, fmt.Errorf("while parsing catalog %s: %w", filename, err)
	}
	if err := ret.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", filename, err)
	}
	return &ret, nil
}

func (c *CatalogFile) Validate() error {
	if len(c.Datasets) == 0 {
		return fmt.Errorf("no datasets specified")
	}
	seen := map[string]bool{}
	for i, ds := range c.Datasets {
		if ds == nil || ds.Name == "" {
			return fmt.Errorf("dataset #%d has no name", i+1)
		}
		if seen[ds.Name] {
			return fmt.Errorf("dataset %s is listed twice", ds.Name)
		}
		seen[ds.Name] = true
		if r := ds.Range; r != nil {
			if r.From <= 0 || r.To < r.From {
				return fmt.Errorf("dataset %s has an invalid range %d..%d", ds.Name, r.From, r.To)
			}
			// From > 0, so To-From cannot overflow
			if r.To-r.From >= MaxRangeItems {
				return fmt.Errorf("dataset %s range %d..%d has more than %d items", ds.Name, r.From, r.To, MaxRangeItems)
			}
		}
		for _, id := range ds.Items {
			if id <= 0 {
				return fmt.Errorf("dataset %s has a non positive item id %d", ds.Name, id)
			}
		}
	}
	return nil
}

// ImportedDataset reports what ImportCatalog did to one dataset
type ImportedDataset struct {
	ID         int64
	Name       string
	Created    bool
	ItemsAdded int64
}

// ImportCatalog creates missing datasets, updates the selection mode of
// existing ones and links their items. Running it twice is harmless.
func (a *App) ImportCatalog(ctx context.Context, catalog *CatalogFile) ([]ImportedDataset, error) {
	if err := catalog.Validate(); err != nil {
		return nil, domain.InvalidArgument("catalog: %s", err)
	}
	out := make([]ImportedDataset, 0, len(catalog.Datasets))
	for _, entry := range catalog.Datasets {
		ds, err := a.Catalog.GetDatasetByName(ctx, entry.Name)
		if err != nil {
			return out, fmt.Errorf("while looking up dataset %s: %w", entry.Name, err)
		}
		created := false
		if ds == nil {
			ds, err = a.Catalog.CreateDataset(ctx, entry.Name, entry.Description, entry.MultiSelect)
			if err != nil {
				return out, fmt.Errorf("while creating dataset %s: %w", entry.Name, err)
			}
			created = true
		} else if ds.MultiSelect != entry.MultiSelect {
			if err := a.Catalog.SetMultiSelect(ctx, ds.ID, entry.MultiSelect); err != nil {
				return out, fmt.Errorf("while updating dataset %s: %w", entry.Name, err)
			}
		}
		added, err := a.Catalog.AddItems(ctx, ds.ID, entry.ItemIDs())
		if err != nil {
			return out, fmt.Errorf("while adding items to dataset %s: %w", entry.Name, err)
		}
		a.Stats.InvalidateDataset(ds.ID)
		a.Logger.Info("dataset imported", "dataset_id", ds.ID, "name", ds.Name, "created", created, "items_added", added)
		out = append(out, ImportedDataset{ID: ds.ID, Name: ds.Name, Created: created, ItemsAdded: added})
	}
	return out, nil
}
