package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunCreateCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunHistoryCmd(clientFn, outputFn),
		newRunActionCmd(clientFn, outputFn, "start", "Start a created run", false),
		newRunActionCmd(clientFn, outputFn, "cancel", "Cancel a run", true),
		newRunActionCmd(clientFn, outputFn, "suspend", "Suspend a running run", true),
		newRunActionCmd(clientFn, outputFn, "resume", "Resume a suspended run", false),
	)

	return cmd
}

func runSummaryRow(r RunSummary) []string {
	return []string{r.ID, r.DefinitionID, strconv.Itoa(r.DefinitionVersion), r.Status, r.CreatedAt}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "DEFINITION_ID", "VERSION", "STATUS", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runSummaryRow(r)
			}

			outputFn().Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.DefinitionID, "definition-id", "", "Filter by definition ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (CREATED, RUNNING, SUSPENDED, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var start bool

	cmd := &cobra.Command{
		Use:   "create DEFINITION_ID",
		Short: "Create a run from a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			run, err := clientFn().CreateRun(cmd.Context(), args[0], CreateRunRequest{Inputs: parsed, Start: start})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run created: %s (%s)", run.ID, run.Status))
			printRun(out, run)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&start, "start", false, "Start the run right after creation")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(outputFn(), run)
			return nil
		},
	}
}

func newRunHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "history ID",
		Short: "Show run event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := clientFn().History(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"SEQ", "TYPE", "NODE", "OCCURRED"}
			rows := make([][]string, len(events))
			for i, e := range events {
				node, _ := e.Payload["node_id"].(string)
				rows[i] = []string{strconv.FormatInt(e.Sequence, 10), e.Type, node, e.OccurredAt}
			}

			outputFn().Print(headers, rows, events)
			return nil
		},
	}
}

func newRunActionCmd(clientFn func() *Client, outputFn func() *Output, action, short string, withReason bool) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			ctx := cmd.Context()

			var (
				run *RunResponse
				err error
			)
			switch action {
			case "start":
				run, err = client.StartRun(ctx, args[0])
			case "cancel":
				run, err = client.CancelRun(ctx, args[0], reason)
			case "suspend":
				run, err = client.SuspendRun(ctx, args[0], reason)
			case "resume":
				run, err = client.ResumeRun(ctx, args[0])
			default:
				return fmt.Errorf("unknown action %q", action)
			}
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Run %s: %s", run.ID, run.Status))
			return nil
		},
	}

	if withReason {
		cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in run history")
	}
	return cmd
}

// printRun выводит run и состояние его узлов.
func printRun(out *Output, run *RunResponse) {
	if out.jsonMode {
		out.JSON(run)
		return
	}

	out.Fields(
		Field{"ID", run.ID},
		Field{"Definition", fmt.Sprintf("%s (v%d)", run.DefinitionID, run.DefinitionVersion)},
		Field{"Status", run.Status},
		Field{"Error", run.Error},
		Field{"Created", run.CreatedAt},
		Field{"Finished", run.FinishedAt},
		Field{"Path", strings.Join(run.ExecutionPath, " -> ")},
		Field{"Nodes", fmt.Sprintf("%d completed, %d skipped, %d attempts",
			run.Stats.Completed, run.Stats.Skipped, run.Stats.TotalAttempts)},
	)
	if len(run.NodeExecutions) == 0 {
		return
	}

	ids := make([]string, 0, len(run.NodeExecutions))
	for id := range run.NodeExecutions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		n := run.NodeExecutions[id]
		rows = append(rows, []string{id, n.Status, strconv.Itoa(n.Attempt), n.ExecutorID, n.LastError})
	}
	fmt.Fprintln(out.w)
	out.Table([]string{"NODE", "STATUS", "ATTEMPT", "EXECUTOR", "ERROR"}, rows)
}

// parseInputs разбирает KEY=VALUE. Значения, похожие на числа и bool, приводятся к типу.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		inputs[key] = inferValue(value)
	}
	return inputs, nil
}

func inferValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
