package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"evlake/internal/config"
)

func newStoreCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var backendFlag string
	var basePath string

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Operate directly on the evidence storage backend",
	}

	cmd.PersistentFlags().StringVar(&backendFlag, "storage-backend", "", "storage backend (local|tableformat|remotevolume)")
	cmd.PersistentFlags().StringVar(&basePath, "base-path", "", "backend base directory")

	cmd.AddCommand(
		newStorePutCmd(cfg, jsonOutput, &backendFlag, &basePath),
		newStoreGetCmd(cfg, &backendFlag, &basePath),
		newStoreLsCmd(cfg, jsonOutput, &backendFlag, &basePath),
		newStoreRmCmd(cfg, &backendFlag, &basePath),
	)

	return cmd
}

func newStorePutCmd(cfg *config.Config, jsonOutput *bool, backendFlag, basePath *string) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "put <engagement-id> <file>",
		Short: "Store a file's bytes for an engagement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engagementID, filePath := args[0], args[1]

			content, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read %s: %w", filePath, err)
			}

			fileName := name
			if fileName == "" {
				fileName = filepath.Base(filePath)
			}

			backend, err := buildBackend(cfg, *backendFlag, *basePath)
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			meta, err := backend.Write(cmd.Context(), engagementID, fileName, content, nil)
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(meta)
			}
			return writeStorageMetadata(meta)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "stored file name (defaults to the file's base name)")
	return cmd
}

func newStoreGetCmd(cfg *config.Config, backendFlag, basePath *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read stored bytes by backend path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := buildBackend(cfg, *backendFlag, *basePath)
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			content, err := backend.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output != "" {
				return os.WriteFile(output, content, 0o644)
			}
			_, err = os.Stdout.Write(content)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write bytes to this file instead of stdout")
	return cmd
}

func newStoreLsCmd(cfg *config.Config, jsonOutput *bool, backendFlag, basePath *string) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "ls <engagement-id>",
		Short: "List stored paths for an engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := buildBackend(cfg, *backendFlag, *basePath)
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			paths, err := backend.List(cmd.Context(), args[0], prefix)
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(paths)
			}
			for _, path := range paths {
				if err := writePlain("%s\n", path); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "only list files whose name starts with this prefix")
	return cmd
}

func newStoreRmCmd(cfg *config.Config, backendFlag, basePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete stored bytes by backend path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := buildBackend(cfg, *backendFlag, *basePath)
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			deleted, err := backend.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return writePlain("not found: %s\n", args[0])
			}
			return writePlain("deleted: %s\n", args[0])
		},
	}
}
