package main

import (
	"fmt"
	"strconv"

	"github.com/lewtec/marcador/internal/sequence"
	"github.com/spf13/cobra"
)

var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "Inspect and administer the id counters",
}

var sequenceNextCmd = &cobra.Command{
	Use:   "next <name>",
	Short: "Allocate the next value of a counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		value, err := app.AllocateNextID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sequence.IsFallback(value) {
			app.Logger.Warn("allocated a degraded identifier", "counter", args[0], "value", value)
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var sequenceShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the current value of a counter without changing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		value, err := app.Sequences.Current(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var sequenceSeedCmd = &cobra.Command{
	Use:   "seed [name]",
	Short: "Raise the record counter to the largest stored record id",
	Long: `Raises the record counter (sequence.record_counter unless a name is given)
to the largest record id already stored. Degraded ids are ignored. Never lowers
a counter.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		name := app.Config.Sequence.RecordCounter
		if len(args) == 1 {
			name = args[0]
		}
		value, err := app.Sequences.Bootstrap(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var sequenceResetCmd = &cobra.Command{
	Use:   "reset <name> <value>",
	Short: "Overwrite a counter (only while no writer is running)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("value %q is not an integer", args[1])
		}
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		return app.Sequences.Reset(cmd.Context(), args[0], value)
	},
}

func init() {
	rootCmd.AddCommand(sequenceCmd)
	sequenceCmd.AddCommand(sequenceNextCmd, sequenceShowCmd, sequenceSeedCmd, sequenceResetCmd)
}
