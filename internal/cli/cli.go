package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/velkov/planflow/internal/log"
	internal_storage "github.com/velkov/planflow/internal/storage"
	"github.com/velkov/planflow/pkg/engine"
	"github.com/velkov/planflow/pkg/models"
)

// SetupCLI registers the engine commands on the root command. Every command
// opens its own store from the --db flag, mirroring how the server wires it.
func SetupCLI(rootCmd *cobra.Command) {
	criticalPathCmd := &cobra.Command{
		Use:   "critical-path [schedule-id]",
		Short: "Compute the critical path of a schedule",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			scheduleID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid schedule id %q\n", args[0])
				os.Exit(1)
			}
			svc, closer := newService(cmd)
			defer closer()
			result, err := svc.ComputeCriticalPath(scheduleID)
			if err != nil {
				fail("compute critical path", err)
			}
			fmt.Fprintf(os.Stdout, "Project duration: %.2f days\n", result.ProjectDuration)
			fmt.Fprintf(os.Stdout, "Critical path: %v\n", result.CriticalPath)
			for _, id := range result.CriticalPath {
				tm := result.Timings[id]
				fmt.Fprintf(os.Stdout, "- %s: ES=%.2f EF=%.2f float=%.2f\n", id, tm.EarliestStart, tm.EarliestEnd, tm.TotalFloat)
			}
		},
	}

	createWorkflowCmd := &cobra.Command{
		Use:   "create-workflow [definition.json]",
		Short: "Validate and store a workflow definition from a JSON file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fail("read definition file", err)
			}
			var def models.WorkflowDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				fail("parse definition file", err)
			}
			svc, closer := newService(cmd)
			defer closer()
			created, err := svc.CreateWorkflowDefinition(def)
			if err != nil {
				fail("create workflow", err)
			}
			fmt.Fprintf(os.Stdout, "Created workflow '%s' with ID %s\n", created.Name, created.ID)
		},
	}

	triggerCmd := &cobra.Command{
		Use:   "trigger [workflow-id] [entity-type] [entity-id]",
		Short: "Manually start a workflow execution against an entity",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			svc, closer := newService(cmd)
			defer closer()
			exec, err := svc.TriggerWorkflow(context.Background(), args[0], args[1], args[2])
			if err != nil {
				fail("trigger workflow", err)
			}
			printExecution(exec)
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [execution-id] [node-id]",
		Short: "Resume a waiting execution past its suspension node",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			resultJSON, err := cmd.Flags().GetString("result")
			if err != nil {
				fail("read result flag", err)
			}
			result := map[string]interface{}{}
			if resultJSON != "" {
				if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
					fail("parse result flag", err)
				}
			}
			svc, closer := newService(cmd)
			defer closer()
			exec, err := svc.ResumeExecution(context.Background(), args[0], args[1], result)
			if err != nil {
				fail("resume execution", err)
			}
			printExecution(exec)
		},
	}
	resumeCmd.Flags().String("result", "", "JSON object merged into the execution context, e.g. '{\"approved\":true}'")

	executionsCmd := &cobra.Command{
		Use:   "executions [workflow-id]",
		Short: "List executions of a workflow (all executions when omitted)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			workflowID := ""
			if len(args) == 1 {
				workflowID = args[0]
			}
			svc, closer := newService(cmd)
			defer closer()
			execs, err := svc.ListExecutions(workflowID)
			if err != nil {
				fail("list executions", err)
			}
			if len(execs) == 0 {
				fmt.Fprintf(os.Stdout, "No executions found.\n")
				return
			}
			for _, exec := range execs {
				fmt.Fprintf(os.Stdout, "- ID: %s, Workflow: %s, Status: %s, Started: %s\n",
					exec.ID, exec.WorkflowID, exec.Status, exec.StartedAt.Format(time.RFC3339))
			}
		},
	}

	rootCmd.AddCommand(criticalPathCmd, createWorkflowCmd, triggerCmd, resumeCmd, executionsCmd)
}

func newService(cmd *cobra.Command) (*engine.Service, func()) {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		fail("read db flag", err)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		fail("initialize store", err)
	}
	svc := engine.NewService(store, log.GetLogger())
	return svc, func() { store.Close() }
}

func printExecution(exec models.WorkflowExecution) {
	fmt.Fprintf(os.Stdout, "Execution %s: %s\n", exec.ID, exec.Status)
	if exec.Status == models.WaitingExecutionStatus {
		fmt.Fprintf(os.Stdout, "Waiting at node: %s\n", exec.CurrentNodeID)
	}
	for _, h := range exec.History {
		fmt.Fprintf(os.Stdout, "- %s %s %s\n", h.At.Format(time.RFC3339), h.NodeID, h.Outcome)
	}
}

func fail(what string, err error) {
	log.GetLogger().Errorf("Failed to %s: %v", what, err)
	fmt.Fprintf(os.Stderr, "Error: failed to %s: %v\n", what, err)
	os.Exit(1)
}
