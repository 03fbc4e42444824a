package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/neuropod-go/neuropod"
	"github.com/neuropod-go/neuropod/internal/safetensors"
)

func newInferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infer PATH",
		Short: "Run a model on inputs read from a SafeTensors file",
		Args:  cobra.ExactArgs(1),
		RunE:  inferHandler,
	}
	cmd.Flags().String("input", "", "SafeTensors file holding the input tensors")
	cmd.Flags().String("output", "", "SafeTensors file to write the outputs to")
	cmd.Flags().StringSlice("outputs", nil, "Outputs to compute (default all)")
	addLoadFlags(cmd)
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// addLoadFlags registers the flags mapped to neuropod.Load options.
func addLoadFlags(cmd *cobra.Command) {
	cmd.Flags().String("backend", "", "Backend to load the model with (default from the package platform)")
	cmd.Flags().Int("parallelism", 0, "Goroutines per inference (0 means one per CPU)")
	cmd.Flags().Bool("strict", false, "Fail to load models using unsupported operators")
}

func loadModel(cmd *cobra.Command, path string) (*neuropod.Neuropod, error) {
	name, _ := cmd.Flags().GetString("backend")
	parallelism, _ := cmd.Flags().GetInt("parallelism")
	strict, _ := cmd.Flags().GetBool("strict")
	return neuropod.Load(path,
		neuropod.WithBackend(name),
		neuropod.WithParallelism(parallelism),
		neuropod.WithStrictOps(strict),
	)
}

func inferHandler(cmd *cobra.Command, args []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	names, _ := cmd.Flags().GetStringSlice("outputs")

	inputs, _, err := safetensors.ReadMap(inputPath)
	if err != nil {
		return err
	}
	defer inputs.Release()

	model, err := loadModel(cmd, args[0])
	if err != nil {
		return err
	}
	defer model.Close()

	outputs, err := model.InferOutputs(inputs, names...)
	if err != nil {
		return err
	}
	defer outputs.Release()

	if outputPath != "" {
		metadata := map[string]string{"model": model.Name()}
		if err := safetensors.WriteFile(outputPath, outputs, metadata); err != nil {
			return fmt.Errorf("write outputs: %w", err)
		}
		klog.V(1).InfoS("Wrote outputs", "id", model.ID(), "path", outputPath)
	}

	table := newTable(cmd.OutOrStdout(), "NAME", "TYPE", "SHAPE", "VALUES")
	for name, t := range outputs.All() {
		table.Append([]string{name, t.Type().String(), fmt.Sprint(t.Dims()), preview(t)})
	}
	table.Render()
	return nil
}
