package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"RegimeWatch/internal/di"
	"RegimeWatch/internal/domain/models"

	"github.com/spf13/cobra"
)

var (
	backfillFile  string
	backfillForce bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay historical inputs in date order",
	Long: `Replay a JSON-lines file of evaluate requests against the configured
store. Dates already stored are kept unless --force is given.

Examples:
  regimewatch backfill --file inputs.jsonl
  regimewatch backfill --file inputs.jsonl --force`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVarP(&backfillFile, "file", "f", "", "JSON-lines file of evaluate requests")
	backfillCmd.Flags().BoolVar(&backfillForce, "force", false, "recalculate dates that are already stored")
	_ = backfillCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	f, err := os.Open(backfillFile)
	if err != nil {
		return fmt.Errorf("open inputs: %w", err)
	}
	defer f.Close()

	inputs, err := readInputs(f)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	off, err := di.InitializeService(cfg)
	if err != nil {
		return fmt.Errorf("service initialization failed: %w", err)
	}
	defer off.Close()

	rep, err := off.Backfill.Run(cmd.Context(), models.BackfillRequest{Inputs: inputs, Force: backfillForce})
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	if rep.FailedAt != "" {
		return fmt.Errorf("backfill stopped at %s: %s", rep.FailedAt, rep.Error)
	}
	return nil
}

// readInputs parses one evaluate request per non-blank line.
func readInputs(r io.Reader) ([]models.EvaluateRequest, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	var out []models.EvaluateRequest
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var req models.EvaluateRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, req)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return out, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
