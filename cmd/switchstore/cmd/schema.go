package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacentio/switchstore/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect object schemas",
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a schema file and print its types",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaCheck,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaCheckCmd)
}

func runSchemaCheck(cmd *cobra.Command, args []string) error {
	s, err := schema.Load(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tCLASS\tPARENT\tPRIORITY\tATTRS\tKEY GROUPS")
	for _, name := range s.Types() {
		t, _ := s.Type(name)
		parent := "-"
		if t.IsAuto() {
			parent = string(t.Parent)
		}
		groups := make([]string, len(t.KeyGroups))
		for i, g := range t.KeyGroups {
			groups[i] = g.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			t.Name, t.Class, parent, t.Priority, len(t.Attrs), strings.Join(groups, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	logger.Debug("schema valid", "file", args[0], "types", len(s.Types()))
	return nil
}
