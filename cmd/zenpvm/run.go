package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/pbinitiative/zenpvm/pkg/engine"
	"github.com/spf13/cobra"
)

var (
	runVariables []string
	runSignalAll bool
	runMaxSteps  int
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a process definition in memory",
	Long:  `Deploys the definition into an in-memory engine, starts one instance and prints its execution tree.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		variables, err := parseVariables(runVariables)
		if err != nil {
			return err
		}
		return runDefinition(cmd.Context(), cmd.OutOrStdout(), args[0], variables)
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runVariables, "var", nil, "start variable as name=value, values are read as JSON when possible")
	runCmd.Flags().BoolVar(&runSignalAll, "signal-all", false, "signal waiting executions until the instance ends")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 100, "maximum number of signals sent with --signal-all")
	rootCmd.AddCommand(runCmd)
}

func parseVariables(pairs []string) (map[string]any, error) {
	variables := map[string]any{}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q, expected name=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		variables[name] = value
	}
	return variables, nil
}

func runDefinition(ctx context.Context, out io.Writer, fileName string, variables map[string]any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}
	conf, err := config.Load("")
	if err != nil {
		return err
	}
	conf.Engine.Persistence = config.Persistence{Driver: engine.DriverMemory}
	conf.Engine.History.CleanupInterval = 0
	deps, err := newEngine(ctx, conf, nil, nil)
	if err != nil {
		return err
	}
	defer deps.close()
	e := deps.engine

	deployment, err := e.Deploy(ctx, data, "")
	if err != nil {
		return err
	}
	pi, err := e.StartProcessInstance(ctx, engine.StartRequest{DefinitionID: deployment.ID, Variables: variables})
	if err != nil {
		return err
	}
	printInstance(out, pi)
	for step := 0; runSignalAll && !pi.Ended && step < runMaxSteps; step++ {
		waiting := ""
		for _, x := range pi.Executions {
			if x.Active && !hasChildren(pi.Executions, x.ID) {
				waiting = x.ID
				break
			}
		}
		if waiting == "" {
			break
		}
		pi, err = e.Signal(ctx, waiting, "", nil)
		if err != nil {
			return err
		}
		printInstance(out, pi)
	}
	return nil
}

func hasChildren(executions []engine.ExecutionInfo, id string) bool {
	for _, x := range executions {
		if x.ParentID == id {
			return true
		}
	}
	return false
}

func printInstance(out io.Writer, pi engine.ProcessInstance) {
	if pi.Ended {
		fmt.Fprintf(out, "process instance %s ended\n", pi.ID)
		return
	}
	fmt.Fprintf(out, "process instance %s of %s\n", pi.ID, pi.DefinitionKey)
	printChildren(out, pi.Executions, "", 1)
}

func printChildren(out io.Writer, executions []engine.ExecutionInfo, parentID string, depth int) {
	for _, x := range executions {
		if x.ParentID != parentID {
			continue
		}
		flags := []string{x.State}
		if x.Scope {
			flags = append(flags, "scope")
		}
		if x.Concurrent {
			flags = append(flags, "concurrent")
		}
		if x.Active {
			flags = append(flags, "active")
		}
		fmt.Fprintf(out, "%s%s @ %s [%s]\n", strings.Repeat("  ", depth), x.ID, x.ActivityID, strings.Join(flags, " "))
		printChildren(out, executions, x.ID, depth+1)
	}
}
