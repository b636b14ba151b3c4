package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/integrations/opencv"

	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <image>",
	Short: "Classify a single image file and print the top predictions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, labels, err := loadLabels(cfg)
		if err != nil {
			return err
		}

		frame, err := opencv.ReadImageFrame(args[0])
		if err != nil {
			return err
		}
		prep := &opencv.Preprocessor{Mirror: cfg.Camera.Mirror}
		input, err := prep.Prepare(frame)
		if err != nil {
			return err
		}

		c, err := loadClassifier(cmd.Context(), cfg.Model, opencv.NewService(cfg))
		if err != nil {
			return err
		}
		defer c.Close()

		probs, err := c.Infer(cmd.Context(), input)
		if err != nil {
			return err
		}
		state, _, err := recognizer.Interpret(probs, labels, cfg.Recognition.Threshold)
		if err != nil {
			return err
		}

		if state.Status == recognizer.StatusConfident {
			fmt.Printf("Recognized: %s (%.0f%%)\n", state.Label, state.Confidence*100)
			if med, ok := cat.Lookup(state.Label); ok && med.Class != "" {
				fmt.Printf("Class:      %s\n", med.Class)
				fmt.Printf("Indication: %s\n", med.Indication)
			}
		} else {
			fmt.Printf("Not recognized (best %.0f%%, threshold %.0f%%)\n", state.Confidence*100, cfg.Recognition.Threshold*100)
		}
		fmt.Println()

		k := cfg.Recognition.TopK
		if k <= 0 {
			k = 5
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RANK\tLABEL\tCONFIDENCE")
		fmt.Fprintln(w, "----\t-----\t----------")
		for i, s := range recognizer.TopK(probs, labels, k) {
			fmt.Fprintf(w, "%d\t%s\t%.1f%%\n", i+1, s.Label, s.Confidence*100)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
