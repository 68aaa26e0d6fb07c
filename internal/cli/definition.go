package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewDefinitionCmd создаёт группу команд для определений workflow.
func NewDefinitionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definition",
		Aliases: []string{"def"},
		Short:   "Manage workflow definitions",
	}

	cmd.AddCommand(
		newDefinitionListCmd(clientFn, outputFn),
		newDefinitionShowCmd(clientFn, outputFn),
		newDefinitionPublishCmd(clientFn, outputFn),
	)

	return cmd
}

func newDefinitionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := clientFn().ListDefinitions(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "VERSION", "NODES", "CREATED"}
			rows := make([][]string, len(defs))
			for i, d := range defs {
				rows[i] = []string{d.ID, d.Name, strconv.Itoa(d.Version), strconv.Itoa(d.Nodes), d.CreatedAt}
			}

			outputFn().Print(headers, rows, defs)
			return nil
		},
	}
}

func newDefinitionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show definition details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := clientFn().GetDefinition(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printDefinition(outputFn(), def)
			return nil
		},
	}
}

func newDefinitionPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "publish FILE",
		Short: "Publish a definition from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			def, err := clientFn().PublishDefinition(cmd.Context(), data, contentTypeFor(args[0]))
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition %s published: version %d (%s)", def.Name, def.Version, def.ID))
			for _, w := range def.Warnings {
				if w.NodeID != "" {
					out.Warn(fmt.Sprintf("node %s: %s", w.NodeID, w.Message))
					continue
				}
				out.Warn(w.Message)
			}
			printDefinition(out, def)
			return nil
		},
	}
}

func printDefinition(out *Output, def *DefinitionResponse) {
	out.Print(
		[]string{"ID", "NAME", "VERSION", "NODES", "CREATED"},
		[][]string{{def.ID, def.Name, strconv.Itoa(def.Version), strconv.Itoa(len(def.Nodes)), def.CreatedAt}},
		def,
	)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/json"
	}
}
