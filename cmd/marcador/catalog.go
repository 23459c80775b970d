package main

import (
	"strconv"

	"github.com/lewtec/marcador/annotation"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage datasets and their items",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Create datasets and link their items from a yaml file",
	Long: `Creates the datasets listed in the file that do not exist yet, updates the
selection mode of the ones that do and links their items. Example file:

datasets:
  - name: birds
    description: "Bird species"
    multi_select: true
    items: [101, 102, 103]
  - name: rotation
    range: {from: 1, to: 500}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := annotation.LoadCatalog(args[0])
		if err != nil {
			return err
		}
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		imported, err := app.ImportCatalog(cmd.Context(), catalog)
		if err != nil {
			return err
		}
		rows := make([][]string, len(imported))
		for i, ds := range imported {
			rows[i] = []string{
				strconv.FormatInt(ds.ID, 10),
				ds.Name,
				strconv.FormatBool(ds.Created),
				strconv.FormatInt(ds.ItemsAdded, 10),
			}
		}
		printRows(cmd.OutOrStdout(), []string{"dataset_id", "name", "created", "items_added"}, rows)
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets with their item counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		datasets, err := app.Catalog.ListDatasets(cmd.Context())
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(datasets))
		for _, ds := range datasets {
			count, err := app.Catalog.CountItems(cmd.Context(), ds.ID)
			if err != nil {
				return err
			}
			rows = append(rows, []string{
				strconv.FormatInt(ds.ID, 10),
				ds.Name,
				strconv.FormatBool(ds.MultiSelect),
				strconv.FormatInt(count, 10),
			})
		}
		printRows(cmd.OutOrStdout(), []string{"dataset_id", "name", "multi_select", "items"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd, catalogListCmd)
}
