package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-analyst/internal/source"
)

func newUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file> <gs://bucket/prefix/>",
		Short: "Upload a source document to Cloud Storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, _, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			uri := uploadURI(args[0], args[1])

			store := source.NewStore()
			defer store.Close()

			if err := store.Upload(ctx, args[0], uri); err != nil {
				return err
			}
			log.Info().Str("file", args[0]).Str("uri", uri).Msg("Uploaded source document")
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
}

// uploadURI appends the file's base name when dest names a prefix.
func uploadURI(localPath, dest string) string {
	if strings.HasSuffix(dest, "/") {
		return dest + filepath.Base(localPath)
	}
	return dest
}
