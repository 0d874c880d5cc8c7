package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joelkehle/discharge-docs/internal/letter"
	"github.com/joelkehle/discharge-docs/internal/patientfile"
	"github.com/joelkehle/discharge-docs/internal/record"
)

func generateCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the discharge letter of one encounter",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rt)
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			source, _ := cmd.Flags().GetString("source")
			encID, _ := cmd.Flags().GetString("encounter")
			env, _ := cmd.Flags().GetString("env")
			modeName, _ := cmd.Flags().GetString("mode")
			iterative, _ := cmd.Flags().GetBool("iterative")

			mode, err := letter.ParseMode(modeName)
			if err != nil {
				return err
			}
			defaultEnc := ""
			if source == string(record.SourceHiX) {
				defaultEnc = record.DefaultEncounterID
			}
			records, err := a.readRecords(file, source, defaultEnc)
			if err != nil {
				return err
			}
			if encID == "" {
				if encID, err = onlyEncounter(records); err != nil {
					return err
				}
			}
			p, err := a.pipeline(env, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if iterative {
				letters, err := p.RunIterative(cmd.Context(), records, encID)
				for _, dl := range letters {
					fmt.Fprintf(out, "== %s (%d tokens) ==\n", dl.Date.Format("2006-01-02"), dl.Tokens)
					if werr := printLetter(out, dl.Letter, mode); werr != nil {
						return werr
					}
				}
				return err
			}
			res, err := p.Run(cmd.Context(), records, encID)
			if err != nil {
				return err
			}
			a.logger.Info().Str("enc_id", encID).Str("outcome", string(res.Letter.Outcome)).Int("tokens", res.Tokens).Msg("letter generated")
			return printLetter(out, res.Letter, mode)
		},
	}
	cmd.Flags().String("file", "-", "Export file to read (- for stdin)")
	cmd.Flags().String("source", string(record.SourceMetavision), "Export kind: hix, metavision or demo")
	cmd.Flags().String("encounter", "", "Encounter id (required when the export holds several)")
	cmd.Flags().String("env", "", "Deployment environment (default from config)")
	cmd.Flags().String("mode", string(letter.ModePlain), "Output mode: plain or markdown")
	cmd.Flags().Bool("iterative", false, "Rebuild the letter day by day")
	return cmd
}

func onlyEncounter(records []record.ClinicalRecord) (string, error) {
	encs := patientfile.Encounters(records)
	switch len(encs) {
	case 0:
		return "", fmt.Errorf("%w: export contains no records", letter.ErrInvalidArgument)
	case 1:
		return encs[0], nil
	}
	return "", fmt.Errorf("%w: export holds %d encounters (%s); pass --encounter",
		letter.ErrInvalidArgument, len(encs), strings.Join(encs, ", "))
}

func printLetter(w io.Writer, l letter.GeneratedLetter, mode letter.Mode) error {
	r, err := letter.Format(l, mode, letter.Options{ApplyFilters: true, IncludeTimestamp: true})
	if err != nil {
		return err
	}
	if mode == letter.ModePlain {
		_, err = io.WriteString(w, r.Text)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
