// Package cmd provides the root command and CLI setup for coevo.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"coevo.dev/pkg/coevo/internal/adapter"
	"coevo.dev/pkg/coevo/internal/controller"
	"coevo.dev/pkg/coevo/internal/domain"
	m "coevo.dev/pkg/coevo/internal/model"
	"coevo.dev/pkg/coevo/pkg"
)

var fsAdapter adapter.SandboxFS
var reportParser adapter.ReportParser

func init() {
	configureRootFlags(rootCmd)

	// Shared stateless dependencies; everything with external requirements
	// (store, generator) is built per command invocation.
	fsAdapter = adapter.NewLocalSandboxFS()
	reportParser = adapter.NewXMLReportParser()
}

const rootLongDescription = `Coevo co-evolves a test suite against a mutant population: it generates
tests and mutants for weakly covered code, verifies and repairs the tests,
and keeps only tests that kill mutants. Point it at a Maven-style project
and let it iterate until the quality thresholds are met.`

const runLongDescription = `Run the co-evolution loop against the project (default: current directory).

Each batch selects weak targets, generates tests and mutants for them in
parallel, merges the surviving artifacts and re-scores the suite. The run
stops on quality thresholds, stagnation, budget exhaustion or interrupt;
an interrupted run can be picked up with 'coevo resume'.`

// rootCmd represents the base command when called without any subcommands.
var rootCmd = baseRootCmd()

func baseRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coevo",
		Short: "Co-evolutionary test generation and mutation testing",
		Long:  rootLongDescription,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

var verboseFlag bool

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "enable debug logging")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func projectFromArgs(args []string) m.Path {
	if len(args) > 0 {
		return m.Path(args[0])
	}

	return m.Path(".")
}

// runDeps bundles everything a run or resume needs, so both commands share
// one construction path.
type runDeps struct {
	config      domain.RunConfig
	runner      adapter.Runner
	store       adapter.Store
	sandboxes   domain.SandboxManager
	dispatcher  *domain.Dispatcher
	verifier    *domain.Verifier
	coordinator *domain.TargetCoordinator
	strategy    domain.Strategy
	ui          controller.UI
	history     pkg.ActionLog[domain.BatchRecord]
}

func buildRunDeps(cmd *cobra.Command, project m.Path) (*runDeps, error) {
	generator, err := adapter.NewOpenAIGenerator()
	if err != nil {
		return nil, err
	}

	store, err := adapter.NewSQLiteStore(string(fsAdapter.JoinPath(string(project), viper.GetString(storePathKey))))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	history, err := pkg.NewActionLog[domain.BatchRecord](
		string(fsAdapter.JoinPath(string(project), viper.GetString(auditDirKey))), "batches")
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	runner := adapter.NewExecRunner(runnerConfigFromViper(), reportParser, fsAdapter)
	sandboxes := domain.NewSandboxManager(fsAdapter, fsAdapter.JoinPath(string(project), viper.GetString(sandboxDirKey)))
	builder := domain.NewKillMatrixBuilder(sandboxes, runner, fsAdapter)
	dispatcher := domain.NewDispatcher(generator, builder, runner, buildTimeout(generatorTimeoutKey))

	var ui controller.UI
	if viper.GetBool(runTUIFlagName) {
		ui = controller.NewTUI(cmd.OutOrStdout())
	} else {
		ui = controller.NewSimpleUI(cmd)
	}

	return &runDeps{
		config:      runConfigFromViper(),
		runner:      runner,
		store:       store,
		sandboxes:   sandboxes,
		dispatcher:  dispatcher,
		verifier:    domain.NewVerifier(sandboxes, runner, fsAdapter, dispatcher, store),
		coordinator: domain.NewTargetCoordinator(viper.GetBool(runExcludeProcessedKey)),
		strategy:    domain.StrategyByName(viper.GetString(runStrategyKey)),
		ui:          ui,
		history:     history,
	}, nil
}

func (d *runDeps) close() {
	_ = d.history.Close()
	_ = d.store.Close()
}

func runConfigFromViper() domain.RunConfig {
	config := domain.DefaultRunConfig()

	config.BatchSize = viper.GetInt(runBatchKey)
	config.Parallelism = viper.GetInt(runParallelKey)
	config.MaxIterations = viper.GetInt(runIterationsKey)
	config.GenerationBudget = viper.GetInt(runBudgetKey)
	config.NoImprovementWindow = viper.GetInt(runWindowKey)
	config.NoImprovementDelta = viper.GetFloat64(runDeltaKey)
	config.TargetScore = viper.GetFloat64(runTargetScoreKey)
	config.TargetLineCoverage = viper.GetFloat64(runTargetLineKey)
	config.TargetBranchCoverage = viper.GetFloat64(runTargetBranchKey)
	config.StateFile = m.Path(viper.GetString(runStateFileKey))

	return config
}

func runnerConfigFromViper() adapter.RunnerConfig {
	config := adapter.DefaultRunnerConfig()

	config.CompileCmd = viper.GetStringSlice(buildCompileCmdKey)
	config.TestCmd = viper.GetStringSlice(buildTestCmdKey)
	config.CoverageCmd = viper.GetStringSlice(buildCoverageCmdKey)
	config.TestReportDir = viper.GetString(buildReportDirKey)
	config.CoverageFile = viper.GetString(buildCoverageFileKey)
	config.CompileTimeout = buildTimeout(buildCompileTimeoutKey)
	config.TestTimeout = buildTimeout(buildTestTimeoutKey)
	config.CoverageTimeout = buildTimeout(buildCoverageTimeoutKey)

	return config
}
