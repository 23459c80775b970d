package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lewtec/marcador/annotation"
	"github.com/lewtec/marcador/internal/domain"
	"github.com/spf13/cobra"
)

func parseID(what, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.InvalidArgument("%s %q is not an integer", what, raw)
	}
	return id, nil
}

// parseLabel accepts a label id ("4") or a JSON array of label ids ("[2,5,7]")
func parseLabel(raw string) (domain.Label, error) {
	var label domain.Label
	if err := json.Unmarshal([]byte(raw), &label); err != nil {
		return domain.Label{}, domain.InvalidArgument("label %q: %s", raw, err)
	}
	return label, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats <dataset> [worker]",
	Short: "Print item and label counts of a dataset",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, err := parseID("dataset", args[0])
		if err != nil {
			return err
		}
		worker := ""
		if len(args) == 2 {
			worker = args[1]
		}
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		counts, err := app.GetStats(cmd.Context(), datasetID, worker)
		if err != nil {
			return err
		}
		printRows(cmd.OutOrStdout(), []string{"total_count", "annotated_count"}, [][]string{{
			strconv.FormatInt(counts.TotalCount, 10),
			strconv.FormatInt(counts.AnnotatedCount, 10),
		}})
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next <dataset> <worker>",
	Short: "Print the next item the worker should label, or done",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, err := parseID("dataset", args[0])
		if err != nil {
			return err
		}
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		next, err := app.GetNextItem(cmd.Context(), datasetID, args[1], nil)
		if err != nil {
			return err
		}
		if next.Done {
			fmt.Fprintln(cmd.OutOrStdout(), "done")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), next.ItemID)
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <dataset> <item> <worker> <label>",
	Short: "Store a label for an item",
	Long: `Stores a label for an item, creating the worker's record or overwriting it.
The label is a label id (4) or a JSON array of label ids ([2,5,7]) on
multi-select datasets.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, err := parseID("dataset", args[0])
		if err != nil {
			return err
		}
		itemID, err := parseID("item", args[1])
		if err != nil {
			return err
		}
		label, err := parseLabel(args[3])
		if err != nil {
			return err
		}
		note, _ := cmd.Flags().GetString("note")
		updateOnly, _ := cmd.Flags().GetBool("update-only")

		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		req := annotation.LabelRequest{DatasetID: datasetID, ItemID: itemID, WorkerID: args[2], Label: label, Note: note}
		var res annotation.SubmitResult
		if updateOnly {
			res, err = app.UpdateLabel(cmd.Context(), req)
		} else {
			res, err = app.SubmitLabel(cmd.Context(), req)
		}
		if err != nil {
			return err
		}
		printRows(cmd.OutOrStdout(), []string{"record_id", "status"}, [][]string{{
			strconv.FormatInt(res.RecordID, 10),
			string(res.Status),
		}})
		return nil
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records <dataset> [worker]",
	Short: "List the records of a dataset",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, err := parseID("dataset", args[0])
		if err != nil {
			return err
		}
		worker := ""
		if len(args) == 2 {
			worker = args[1]
		}
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		records, err := app.ListRecords(cmd.Context(), datasetID, worker)
		if err != nil {
			return err
		}
		rows := make([][]string, len(records))
		for i, rec := range records {
			label, err := json.Marshal(rec.Label)
			if err != nil {
				return err
			}
			rows[i] = []string{
				strconv.FormatInt(rec.RecordID, 10),
				strconv.FormatInt(rec.ItemID, 10),
				rec.WorkerID,
				string(label),
				rec.Note,
				rec.UpdatedAt.Format(time.RFC3339),
			}
		}
		printRows(cmd.OutOrStdout(), []string{"record_id", "item_id", "worker_id", "label", "note", "updated_at"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, nextCmd, submitCmd, recordsCmd)
	submitCmd.Flags().StringP("note", "n", "", "Free text note stored with the label")
	submitCmd.Flags().Bool("update-only", false, "Only overwrite an existing record, report not_found otherwise")
}
