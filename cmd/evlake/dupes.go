package main

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"evlake/internal/config"
	"evlake/internal/dedupe"
	"evlake/internal/store"
)

func newDupesCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "dupes <engagement-id>",
		Short: "List groups of evidence items sharing the same content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			index := dedupe.NewIndex(st)
			groups, err := index.Groups(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(groups)
			}

			if len(groups) == 0 {
				return writePlain("no duplicates\n")
			}

			hashes := make([]string, 0, len(groups))
			for hash := range groups {
				hashes = append(hashes, hash)
			}
			sort.Strings(hashes)

			for _, hash := range hashes {
				if err := writePlain("%s: %s\n", hash, strings.Join(groups[hash], ", ")); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
