package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joelkehle/discharge-docs/internal/bulk"
	"github.com/joelkehle/discharge-docs/internal/record"
)

func bulkCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Generate letters for every encounter of an export into a spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rt)
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			source, _ := cmd.Flags().GetString("source")
			outPath, _ := cmd.Flags().GetString("out")
			resume, _ := cmd.Flags().GetBool("resume")
			workers, _ := cmd.Flags().GetInt("workers")
			env, _ := cmd.Flags().GetString("env")

			records, err := a.readRecords(file, source, "")
			if err != nil {
				return err
			}
			var previous []bulk.Row
			if resume {
				if previous, err = readPrevious(outPath); err != nil {
					return err
				}
				a.logger.Info().Int("rows", len(previous)).Str("path", outPath).Msg("resuming bulk run")
			}

			p, err := a.pipeline(env, nil)
			if err != nil {
				return err
			}
			runner := bulk.NewRunner(p, workers, a.logger)
			rows, err := runner.Generate(cmd.Context(), records, bulk.Options{
				Previous: previous,
				Progress: func(done, total int) {
					a.logger.Info().Int("done", done).Int("total", total).Msg("bulk progress")
				},
			})
			if err != nil {
				return err
			}
			if err := writeRows(outPath, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d letters to %s\n", len(rows), outPath)
			return nil
		},
	}
	cmd.Flags().String("file", "-", "Export file to read (- for stdin)")
	cmd.Flags().String("source", string(record.SourceMetavision), "Export kind: hix, metavision or demo")
	cmd.Flags().String("out", "bulk_generated_docs.xlsx", "Workbook to write")
	cmd.Flags().Bool("resume", false, "Keep rows of an existing workbook and skip their encounters")
	cmd.Flags().Int("workers", 4, "Concurrent generations")
	cmd.Flags().String("env", "bulk", "Deployment environment")
	return cmd
}

func readPrevious(path string) ([]bulk.Row, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return bulk.ReadWorkbook(f)
}

// writeRows replaces path atomically so an interrupted write keeps the
// previous workbook.
func writeRows(path string, rows []bulk.Row) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bulk-*.xlsx")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := bulk.WriteWorkbook(tmp, rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
