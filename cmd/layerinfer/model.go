package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

func newModelCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect published models",
	}

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print model metadata and layer dimensions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd, *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			if err := model.ValidateObjectID(args[0]); err != nil {
				return errors.InputInvalid.Explain("invalid model id %q", args[0]).Wrap(err)
			}
			obj, err := a.modelSource().GetModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printModel(cmd.OutOrStdout(), obj)
			return nil
		},
	}
	addLedgerFlags(show)

	list := &cobra.Command{
		Use:   "list",
		Short: "List models published by the configured package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd, *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			objs, err := a.modelSource().ListModels(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTASK\tLAYERS")
			for i := range objs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", objs[i].ID, objs[i].Name, objs[i].TaskType, len(objs[i].Layers()))
			}
			return tw.Flush()
		},
	}
	addLedgerFlags(list)

	cmd.AddCommand(show, list)
	return cmd
}
