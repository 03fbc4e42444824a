package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neuropod-go/neuropod"
	"github.com/neuropod-go/neuropod/internal/safetensors"
	"github.com/neuropod-go/neuropod/tensor"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench PATH",
		Short: "Measure inference throughput",
		Args:  cobra.ExactArgs(1),
		RunE:  benchHandler,
	}
	cmd.Flags().String("input", "", "SafeTensors file holding the input tensors")
	cmd.Flags().Int("workers", 1, "Concurrent workers, each with its own model instance")
	cmd.Flags().Int("iterations", 100, "Total number of inferences")
	addLoadFlags(cmd)
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func benchHandler(cmd *cobra.Command, args []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	workers, _ := cmd.Flags().GetInt("workers")
	iterations, _ := cmd.Flags().GetInt("iterations")
	if workers < 1 || iterations < 1 {
		return errors.New("workers and iterations must be positive")
	}
	workers = min(workers, iterations)

	inputs, _, err := safetensors.ReadMap(inputPath)
	if err != nil {
		return err
	}
	defer inputs.Release()

	models := make([]*neuropod.Neuropod, 0, workers)
	defer func() {
		for _, m := range models {
			_ = m.Close()
		}
	}()
	for range workers {
		m, err := loadModel(cmd, args[0])
		if err != nil {
			return err
		}
		models = append(models, m)
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	start := time.Now()
	for i, model := range models {
		n := iterations / workers
		if i < iterations%workers {
			n++
		}
		g.Go(func() error {
			for range n {
				if err := ctx.Err(); err != nil {
					return err
				}
				outputs, err := model.Infer(inputs)
				if err != nil {
					return err
				}
				outputs.Release()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	rate := float64(iterations) / elapsed.Seconds()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Model:        %s (%s)\n", models[0].Name(), models[0].BackendName())
	fmt.Fprintf(w, "Workers:      %d\n", workers)
	fmt.Fprintf(w, "Inferences:   %s\n", humanize.Comma(int64(iterations)))
	fmt.Fprintf(w, "Elapsed:      %s\n", elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "Latency:      %s\n", (elapsed * time.Duration(workers) / time.Duration(iterations)).Round(time.Microsecond))
	fmt.Fprintf(w, "Throughput:   %s inferences/s, %s/s\n",
		humanize.CommafWithDigits(rate, 1), humanize.Bytes(uint64(rate*float64(inputBytes(inputs)))))
	return nil
}

// inputBytes returns the size of the fixed-width elements of m.
func inputBytes(m *tensor.Map) int {
	total := 0
	for _, t := range m.All() {
		total += t.NumElements() * t.Type().Size()
	}
	return total
}
