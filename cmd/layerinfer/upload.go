package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

func newUploadCommand(configPath *string) *cobra.Command {
	var (
		file string
		info model.Info
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Validate a quantized model file and publish it on chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd, *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return a.upload(cmd.Context(), cmd, file, info)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "model JSON file")
	cmd.Flags().StringVar(&info.Name, "name", "", "model name")
	cmd.Flags().StringVar(&info.Description, "description", "", "model description")
	cmd.Flags().StringVar(&info.Task, "task", "classification", "task type")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("name")
	addLedgerFlags(cmd)
	return cmd
}

func (a *app) upload(ctx context.Context, cmd *cobra.Command, file string, info model.Info) error {
	f, err := os.Open(file)
	if err != nil {
		return errors.InputInvalid.Explain("cannot open model file %s", file).Wrap(err)
	}
	defer f.Close()

	u, err := model.DecodeUpload(f)
	if err != nil {
		return err
	}
	tx, err := model.BuildCreateModel(a.cfg.Ledger.PackageID, a.cfg.Ledger.ModuleName, a.cfg.Ledger.GasBudget, info, u)
	if err != nil {
		return err
	}

	client, err := a.dialLedger(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	a.logger.Info("Publishing model", zap.String("name", info.Name), zap.Int("layers", len(u.LayerDimensions)))
	receipt, err := client.SignAndExecute(ctx, tx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Model %q published in transaction %s\n", info.Name, receipt.Digest)
	for _, ev := range receipt.Events {
		if id, ok := ev.ParsedJSON["model_id"].(string); ok {
			fmt.Fprintf(out, "Model id: %s\n", id)
			break
		}
	}
	return nil
}
