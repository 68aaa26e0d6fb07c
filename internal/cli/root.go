package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd собирает корневую команду dagflow.
//
// Флаги --api-url и --tenant по умолчанию берутся из DAGFLOW_API_URL и DAGFLOW_TENANT.
func NewRootCmd(version string, stdout, stderr io.Writer) *cobra.Command {
	var apiURL string
	var tenantID string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "dagflow",
		Short:         "dagflow CLI: DAG workflow engine client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("DAGFLOW_API_URL", "http://localhost:8080"), "API server URL")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", os.Getenv("DAGFLOW_TENANT"), "Tenant ID sent as "+TenantHeader)
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *Client { return NewClient(apiURL, tenantID) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, stdout, stderr) }

	rootCmd.AddCommand(
		NewDefinitionCmd(clientFn, outputFn),
		NewRunCmd(clientFn, outputFn),
		NewExecutorCmd(clientFn, outputFn),
	)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
