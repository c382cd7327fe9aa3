package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kiranshivaraju/holdseg/internal/config"
	"github.com/kiranshivaraju/holdseg/internal/export"
	"github.com/kiranshivaraju/holdseg/internal/pipeline"
	"github.com/kiranshivaraju/holdseg/pkg/models"
	"github.com/spf13/cobra"
)

type predictOptions struct {
	InputPath  string
	OutputPath string
	GeoJSON    bool
}

var predictOpts predictOptions

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Segment holds in a single image using the configured model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		image, err := os.ReadFile(predictOpts.InputPath)
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		p, err := pipeline.Load(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		set, err := p.Predict(cmd.Context(), image)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if predictOpts.OutputPath != "" {
			f, err := os.Create(predictOpts.OutputPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return writePrediction(out, set, predictOpts.GeoJSON)
	},
}

func init() {
	predictCmd.Flags().StringVarP(&predictOpts.InputPath, "input", "i", "", "Path to image")
	predictCmd.Flags().StringVarP(&predictOpts.OutputPath, "output", "o", "", "Write the result here instead of stdout")
	predictCmd.Flags().BoolVar(&predictOpts.GeoJSON, "geojson", false, "Emit a GeoJSON FeatureCollection instead of raw polygons")

	predictCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(predictCmd)
}

func writePrediction(w io.Writer, set *models.PredictionSet, geo bool) error {
	var v any = set
	if geo {
		v = export.FeatureCollection(set)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
