package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"evlake/internal/config"
	"evlake/internal/lineage"
	"evlake/internal/store"
)

func newLineageCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Inspect and extend evidence provenance records",
	}

	cmd.AddCommand(
		newLineageShowCmd(cfg, jsonOutput),
		newLineageAppendCmd(cfg, jsonOutput),
	)

	return cmd
}

func newLineageShowCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show the lineage chain of an evidence item, newest version first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			tracker := lineage.NewTracker(st)
			records, err := tracker.GetLineageChain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return writePlain("no lineage for evidence item %s\n", args[0])
			}

			if *jsonOutput {
				return writeJSON(records)
			}
			for i, lin := range records {
				if i > 0 {
					if err := writePlain("---\n"); err != nil {
						return err
					}
				}
				if err := writeLineageDetail(lin); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newLineageAppendCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var details []string

	cmd := &cobra.Command{
		Use:   "append <lineage-id> <step>",
		Short: "Append a transformation step to a lineage record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineageID, step := args[0], args[1]

			detailMap, err := parseDetails(details)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			tracker := lineage.NewTracker(st)
			lin, err := tracker.AppendTransformation(cmd.Context(), lineageID, step, detailMap)
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(lin)
			}
			return writeLineageDetail(*lin)
		},
	}

	cmd.Flags().StringArrayVar(&details, "detail", nil, "step detail as key=value (repeatable)")
	return cmd
}

func parseDetails(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --detail %q (expected key=value)", pair)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, nil
}
