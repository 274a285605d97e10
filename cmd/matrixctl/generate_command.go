package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yungbote/adforge-backend/internal/modules/matrix"
)

// cliLimits mirrors the server's generation defaults.
var cliLimits = matrix.Limits{DefaultMaxRows: 100, MaxRowsLimit: 5000}

func newGenerateCommand() *cobra.Command {
	var (
		file            string
		maxRows         int
		allowDuplicates bool
		asJSON          bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Preview the rows a matrix file would generate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			m, err := loadMatrixFile(file)
			if err != nil {
				return err
			}
			opts, err := matrix.GenerateOptions{
				MaxRows:         maxRows,
				AllowDuplicates: allowDuplicates,
			}.Resolve(cliLimits)
			if err != nil {
				return err
			}
			res, err := matrix.GenerateCombinations(m, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, map[string]any{"rows": res.Matrix.Rows, "stats": res.Stats})
			}

			headers := []string{"#"}
			for _, s := range res.Matrix.Slots {
				headers = append(headers, s.ID)
			}
			headers = append(headers, "locked")
			aligns := []columnAlignment{alignRight}

			rows := make([][]string, 0, len(res.Matrix.Rows))
			for i, r := range res.Matrix.Rows {
				line := []string{strconv.Itoa(i + 1)}
				for _, s := range res.Matrix.Slots {
					line = append(line, r.Values[s.ID])
				}
				locked := ""
				if r.Locked {
					locked = "yes"
				}
				rows = append(rows, append(line, locked))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			fmt.Fprintf(cmd.OutOrStdout(), "%d preserved, %d generated, %d combinations",
				res.Stats.PreservedRows, res.Stats.GeneratedRows, res.Stats.TotalCombinations)
			if res.Stats.Truncated {
				fmt.Fprint(cmd.OutOrStdout(), " (truncated)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Matrix definition (YAML or JSON)")
	cmd.Flags().IntVar(&maxRows, "max-rows", cliLimits.DefaultMaxRows, "Upper bound on rows in the result (0 uses the default)")
	cmd.Flags().BoolVar(&allowDuplicates, "allow-duplicates", false, "Keep repeated candidates within a slot")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
