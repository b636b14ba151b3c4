package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"medscan-go/internal/catalog"
	"medscan-go/internal/core/recognizer"

	"github.com/spf13/cobra"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the model labels in output order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, labels, err := loadLabels(cfg)
		if err != nil {
			return err
		}
		return printLabels(os.Stdout, cat, labels)
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}

func printLabels(out io.Writer, cat *catalog.Catalog, labels *recognizer.LabelSet) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tCLASS\tINDICATION")
	fmt.Fprintln(w, "-----\t----\t-----\t----------")
	for i, name := range labels.Names() {
		med, _ := cat.Lookup(name)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, name, med.Class, med.Indication)
	}
	return w.Flush()
}
