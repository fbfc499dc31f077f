package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tierfetch/internal/invoke"
)

func newInvokeCmd(root *rootOptions) *cobra.Command {
	var eventPath string
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Handle one function event and print the {statusCode, body} reply",
		Long: `invoke reads a function event (a JSON fetch request) from --event or
stdin, dispatches it and prints the reply envelope exactly as a managed
function runtime would return it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readEvent(cmd, eventPath)
			if err != nil {
				return err
			}
			return withApp(cmd, root, func(app App) error {
				handler := invoke.NewHandler(app.Fetcher(), app.Logger().Named("invoke"))
				resp := handler.HandleRaw(cmd.Context(), raw)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return fmt.Errorf("encode response: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventPath, "event", "-", "event file, or - for stdin")
	return cmd
}

func readEvent(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read event from stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return raw, nil
}
