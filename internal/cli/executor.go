package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewExecutorCmd создаёт группу команд для реестра исполнителей.
func NewExecutorCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Manage registered executors",
	}

	cmd.AddCommand(
		newExecutorListCmd(clientFn, outputFn),
		newExecutorRegisterCmd(clientFn, outputFn),
		newExecutorUnregisterCmd(clientFn, outputFn),
	)

	return cmd
}

func newExecutorListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List executors",
		RunE: func(cmd *cobra.Command, args []string) error {
			executors, err := clientFn().ListExecutors(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "COMM", "ENDPOINT", "HEALTHY", "LAST_HEARTBEAT"}
			rows := make([][]string, len(executors))
			for i, e := range executors {
				rows[i] = []string{e.ID, e.Type, e.CommunicationType, e.Endpoint, strconv.FormatBool(e.Healthy), e.LastHeartbeat}
			}

			outputFn().Print(headers, rows, executors)
			return nil
		},
	}
}

func newExecutorRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req RegisterExecutorRequest
	var heartbeat time.Duration
	var metadata []string

	cmd := &cobra.Command{
		Use:   "register ID",
		Short: "Register an executor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ID = args[0]
			req.CommunicationType = strings.ToUpper(req.CommunicationType)
			req.HeartbeatTimeoutMs = heartbeat.Milliseconds()

			if len(metadata) > 0 {
				req.Metadata = make(map[string]string, len(metadata))
				for _, kv := range metadata {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("invalid metadata format %q, expected KEY=VALUE", kv)
					}
					req.Metadata[k] = v
				}
			}

			executor, err := clientFn().RegisterExecutor(cmd.Context(), req)
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Executor registered: %s (%s)", executor.ID, executor.Type))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Type, "type", "", "Executor type (required)")
	cmd.Flags().StringVar(&req.CommunicationType, "comm", "REST", "Communication type (LOCAL, REST, GRPC, AMQP)")
	cmd.Flags().StringVar(&req.Endpoint, "endpoint", "", "Executor endpoint")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat-timeout", 0, "Heartbeat timeout (engine default if zero)")
	cmd.Flags().StringSliceVar(&metadata, "meta", nil, "Metadata as KEY=VALUE (repeatable)")
	cmd.MarkFlagRequired("type")

	return cmd
}

func newExecutorUnregisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister ID",
		Short: "Remove an executor from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().UnregisterExecutor(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Executor unregistered: %s", args[0]))
			return nil
		},
	}
}
