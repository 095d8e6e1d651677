package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dreamup/checkin-agent/internal/app"
)

var (
	solveBackground string
	solveSprite     string
)

var solveImageCmd = &cobra.Command{
	Use:   "solve-image",
	Short: "Run detection and matching on saved challenge images",
	Long: `Dry-run the solver offline: detect candidate regions on a saved background,
match the three sprite pieces against them and print the chosen click points
in image pixels. Nothing is clicked.`,
	RunE: runSolveImage,
}

func init() {
	solveImageCmd.Flags().StringVar(&solveBackground, "background", "", "Background image (required)")
	solveImageCmd.Flags().StringVar(&solveSprite, "sprite", "", "Instruction sprite image (required)")
	solveImageCmd.Flags().String("detector", "onnx", "Region detector: onnx or openai")
	solveImageCmd.Flags().String("model", "", "Path to the ONNX detector model")

	solveImageCmd.MarkFlagRequired("background")
	solveImageCmd.MarkFlagRequired("sprite")
}

func runSolveImage(cmd *cobra.Command, args []string) error {
	a, err := app.New(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("🔍 Detecting regions with %s detector...\n", cfg.Detector)
	rep, err := a.PreviewFiles(cmd.Context(), solveBackground, solveSprite)

	fmt.Printf("📦 Regions: %d\n", len(rep.Boxes))
	for i, b := range rep.Boxes {
		fmt.Printf("   %d. %s\n", i+1, b)
	}
	if len(rep.Candidates) > 0 {
		fmt.Println("🧩 Matches:")
		for _, c := range rep.Candidates {
			fmt.Printf("   piece %d -> %s (score %.3f)\n", c.Piece+1, c.Box, c.Score)
		}
	}
	if err != nil {
		return fmt.Errorf("dry run stopped (%s): %w", rep.Kind, err)
	}

	fmt.Println("🖱️  Click order (image pixels):")
	for i, c := range rep.Clicks {
		fmt.Printf("   %d. (%d, %d)\n", i+1, c.X, c.Y)
	}
	return nil
}
