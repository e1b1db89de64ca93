package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/grovetools/memory/schema"
	"github.com/spf13/cobra"
)

// NewSchemaCmd creates the `schema` command.
func NewSchemaCmd() *cobra.Command {
	kinds := make([]string, 0, len(schema.Kinds()))
	for _, k := range schema.Kinds() {
		kinds = append(kinds, string(k))
	}

	cmd := &cobra.Command{
		Use:       "schema <kind>",
		Short:     "Print the JSON Schema of a persisted document",
		Long:      "Prints the JSON Schema of one of: " + strings.Join(kinds, ", ") + ".\nWith --check, validates a file against it instead.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := schema.Kind(args[0])
			check, _ := cmd.Flags().GetString("check")
			if check == "" {
				data, err := schema.Generate(kind)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			data, err := os.ReadFile(check)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", check, err)
			}
			v, err := schema.Default()
			if err != nil {
				return err
			}
			if err := v.ValidateBytes(kind, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is a valid %s document\n", check, kind)
			return nil
		},
	}
	cmd.Flags().String("check", "", "Validate this file against the schema")
	return cmd
}
