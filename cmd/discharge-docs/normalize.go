package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joelkehle/discharge-docs/internal/patientfile"
	"github.com/joelkehle/discharge-docs/internal/record"
)

func normalizeCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize an export and print the records or patient files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rt)
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			source, _ := cmd.Flags().GetString("source")
			encID, _ := cmd.Flags().GetString("encounter")
			asFile, _ := cmd.Flags().GetBool("patient-file")
			byLabel, _ := cmd.Flags().GetBool("by-label")

			defaultEnc := ""
			if source == string(record.SourceHiX) {
				defaultEnc = record.DefaultEncounterID
			}
			records, err := a.readRecords(file, source, defaultEnc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !asFile {
				if encID != "" {
					records = onlyFor(records, encID)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			order := patientfile.OrderByTime
			if byLabel {
				order = patientfile.OrderByLabel
			}
			encs := []string{encID}
			if encID == "" {
				encs = patientfile.Encounters(records)
			}
			for _, enc := range encs {
				text, _ := patientfile.Assemble(records, patientfile.Options{EncounterID: enc, Order: order})
				if err := writeFile(out, enc, text); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("file", "-", "Export file to read (- for stdin)")
	cmd.Flags().String("source", string(record.SourceMetavision), "Export kind: hix, metavision or demo")
	cmd.Flags().String("encounter", "", "Only this encounter")
	cmd.Flags().Bool("patient-file", false, "Print assembled patient files instead of records")
	cmd.Flags().Bool("by-label", false, "Order patient files by section label, then time")
	return cmd
}

func onlyFor(records []record.ClinicalRecord, encID string) []record.ClinicalRecord {
	out := make([]record.ClinicalRecord, 0, len(records))
	for _, r := range records {
		if r.EncounterID == encID {
			out = append(out, r)
		}
	}
	return out
}

func writeFile(w io.Writer, encID, text string) error {
	_, err := fmt.Fprintf(w, "=== %s ===\n%s\n", encID, text)
	return err
}
