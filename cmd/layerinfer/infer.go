package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// Exit codes of the infer command.
const (
	codeError   = 1
	codeWarning = 2
)

func newInferCommand(configPath *string) *cobra.Command {
	var modelID, input, mode string
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run one inference and print every layer",
		Example: `  layerinfer infer --model 0x5f3c... --input "1.0, -2.0, 3.0"
  layerinfer infer --model 0x5f3c... --input "1, 2, 3" --mode optimized`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd, *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			if mode == "" {
				mode = a.cfg.Inference.DefaultMode
			}
			m, err := inference.ParseMode(mode)
			if err != nil {
				return err
			}
			return a.infer(cmd.Context(), cmd, modelID, input, m)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "model object id")
	cmd.Flags().StringVarP(&input, "input", "i", "", "input vector, comma-separated numbers")
	cmd.Flags().StringVar(&mode, "mode", "", "single, batched or optimized (default from configuration)")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")
	addLedgerFlags(cmd)
	return cmd
}

func (a *app) infer(ctx context.Context, cmd *cobra.Command, modelID, input string, mode inference.Mode) error {
	shutdownTracing, err := a.setupTracing(os.Stderr)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	if err := model.ValidateObjectID(modelID); err != nil {
		return errors.InputInvalid.Explain("invalid model id %q", modelID).Wrap(err)
	}
	obj, err := a.modelSource().GetModel(ctx, modelID)
	if err != nil {
		return err
	}
	ref := model.ReferenceFromObject(obj)
	if err := ref.Validate(); err != nil {
		return err
	}

	builder, err := a.builder()
	if err != nil {
		return err
	}
	client, err := a.dialLedger(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	progress := func(s inference.Snapshot) {
		if s.Busy {
			a.logger.Info(s.Status.Message, zap.String("state", string(s.State)), zap.Int("layer", s.CurrentLayer))
		}
	}
	driver := inference.NewDriver(ref, builder, client, a.logger,
		inference.WithChainDelay(a.cfg.Inference.ChainDelay),
		inference.WithObserver(progress),
	)

	fmt.Fprintf(cmd.OutOrStdout(), "Model %s (%s), %d layers, mode %s\n\n", obj.Name, ref.ID, ref.TotalLayers, mode)
	snap, runErr := driver.Start(ctx, input, mode)
	printRun(cmd.OutOrStdout(), snap)

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, errors.NoEventsFound):
		return &exitError{code: codeWarning, err: runErr}
	default:
		return &exitError{code: codeError, err: runErr}
	}
}
