package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/dcshock/mlpipe/config"
	"github.com/dcshock/mlpipe/flow"
	"github.com/dcshock/mlpipe/observer"
	"github.com/dcshock/mlpipe/pipeline"
	"github.com/dcshock/mlpipe/step"
	"github.com/dcshock/mlpipe/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPipelineCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run pipelines and inspect their runs.",
	}
	cmd.AddCommand(newRunCmd(o), newListCmd(o), newRunsCmd(o))
	return cmd
}

// checkConfigFile requires path to be an existing file.
func checkConfigFile(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("invalid value for '--config' / '-c': file '%s' does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("invalid value for '--config' / '-c': %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("invalid value for '--config' / '-c': file '%s' is a directory", path)
	}
	return nil
}

// buildFromConfig loads the module and configuration and builds the pipeline
// with retries persisted to the profile's store.
func buildFromConfig(o *rootOptions, e *env, moduleRef, configPath string) (*flow.Instance, error) {
	mod, err := o.loadModule(moduleRef)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return config.BuildPipeline(mod, cfg, &config.BuildOptions{
		RetryPersist:      observer.NewParkedRunStore(e.store).PersistFunc(),
		RetryAttemptStore: observer.AttemptStore(e.store),
		Logger:            e.log,
	})
}

func newRunCmd(o *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run <module>",
		Short: "Run a pipeline with the given configuration.",
		Long: `Run the pipeline named in the configuration file. <module> is a module
registered with the binary (e.g. "mnist") or the path of a Go plugin (.so)
that exports a config.Module named "Module".`,
		Example: "  mlpipe pipeline run mnist -c examples/mnist/config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfigFile(configPath); err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := o.env(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			inst, err := buildFromConfig(o, e, args[0], configPath)
			if err != nil {
				return err
			}
			obs, meta := e.observers()
			_, err = inst.Run(step.WithRecorder(ctx, meta), flow.RunOptions{
				Observer:  obs,
				Artifacts: e.artifacts(),
				Logger:    e.log,
			})
			if pipeline.IsParked(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "Pipeline run parked. Resume it with 'mlpipe pipeline runs resume'.")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the pipeline configuration YAML file.")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newListCmd(o *rootOptions) *cobra.Command {
	var project, stack string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all pipelines in the metadata store of the active profile.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := o.env(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()
			e.printActiveProfile(out)

			if project != "" {
				if _, err := e.store.GetProject(ctx, project); err != nil {
					if errors.Is(err, store.ErrProjectNotFound) {
						return fmt.Errorf("No such project: '%s'", project)
					}
					return err
				}
			}
			pipelines, err := e.store.ListPipelines(ctx, store.Filter{Stack: stack, Project: project})
			if err != nil {
				return err
			}
			if len(pipelines) == 0 {
				forProject := ""
				if project != "" {
					forProject = fmt.Sprintf(" for project '%s'", project)
				}
				fmt.Fprintf(out, "No pipelines found%s.\n", forProject)
				return nil
			}
			rows := make([][]string, 0, len(pipelines))
			for _, p := range pipelines {
				rows = append(rows, []string{p.ID, p.Name})
			}
			return printTable(out, []string{"ID", "NAME"}, rows)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Only list pipelines of this project.")
	cmd.Flags().StringVarP(&stack, "stack", "s", "", "Only list pipelines run on this stack.")
	return cmd
}

func newRunsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Information about pipeline runs.",
	}
	cmd.AddCommand(newRunsListCmd(o), newRunsResumeCmd(o))
	return cmd
}

func newRunsListCmd(o *rootOptions) *cobra.Command {
	var stack string
	cmd := &cobra.Command{
		Use:   "list [PIPELINE]",
		Short: "List pipeline runs in the metadata store of the active profile.",
		Long: `List pipeline runs in the metadata store of the active profile.

Without PIPELINE the runs of every pipeline are listed and --stack is ignored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := o.env(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()
			e.printActiveProfile(out)

			var pipelines []store.Pipeline
			name := ""
			if len(args) == 1 {
				name = args[0]
				p, err := e.store.GetPipeline(ctx, name, stack)
				if errors.Is(err, store.ErrPipelineNotFound) {
					return fmt.Errorf("No pipeline named %s found.", name)
				}
				if err != nil {
					return err
				}
				pipelines = []store.Pipeline{p}
			} else {
				pipelines, err = e.store.ListPipelines(ctx, store.Filter{})
				if err != nil {
					return err
				}
			}

			var rows [][]string
			for _, p := range pipelines {
				names, err := store.RunNames(ctx, e.store, p.ID)
				if err != nil {
					return err
				}
				for _, n := range names {
					rows = append(rows, []string{p.Name, n})
				}
			}
			if len(rows) == 0 {
				forPipeline := ""
				if name != "" {
					forPipeline = fmt.Sprintf(" for pipeline '%s'", name)
				}
				fmt.Fprintf(out, "No pipeline runs found%s.\n", forPipeline)
				return nil
			}
			return printTable(out, []string{"PIPELINE", "RUN"}, rows)
		},
	}
	cmd.Flags().StringVarP(&stack, "stack", "s", "", "Stack the named PIPELINE was run on.")
	return cmd
}

func newRunsResumeCmd(o *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "resume <module>",
		Short: "Resume parked runs of a pipeline whose resume time has passed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfigFile(configPath); err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := o.env(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()
			e.printActiveProfile(out)

			inst, err := buildFromConfig(o, e, args[0], configPath)
			if err != nil {
				return err
			}
			p := inst.Pipeline(e.artifacts())
			lookup := func(name string) *pipeline.Pipeline {
				if name == p.Name {
					return p
				}
				return nil
			}
			obs, meta := e.observers()
			n, err := observer.NewResumer(e.store, lookup, e.log).RunDue(step.WithRecorder(ctx, meta), obs)
			fmt.Fprintf(out, "Resumed %d parked run(s) of pipeline '%s'.\n", n, p.Name)
			if err != nil {
				e.log.Error("some resumed runs failed", zap.Error(err))
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the pipeline configuration YAML file.")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
