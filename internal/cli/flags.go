package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newFlagsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Manage feature flags",
	}

	cmd.AddCommand(
		newFlagsListCmd(a),
		newFlagsSetCmd(a),
		newFlagsDeleteCmd(a),
	)
	return cmd
}

func newFlagsListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flags with their decoded values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, err := a.flags.All(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(values)
			}

			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", k, values[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newFlagsSetCmd(a *app) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Create or update a flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, err := a.flags.Set(cmd.Context(), args[0], args[1], typ)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s)\n", flag.Key, flag.Value, flag.Type)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "string", "value type: string, bool, int or json")
	return cmd
}

func newFlagsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.flags.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
