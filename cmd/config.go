package cmd

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "coevo"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	runParallelFlagName = "parallel"
	runBatchFlagName    = "batch-size"
	runStrategyFlagName = "strategy"
	runTUIFlagName      = "tui"
	runIterationsFlag   = "max-iterations"
	runBudgetFlagName   = "generation-budget"
	verboseFlagName     = "verbose"

	runParallelKey         = "run.parallel"
	runBatchKey            = "run.batch_size"
	runStrategyKey         = "run.strategy"
	runIterationsKey       = "run.max_iterations"
	runBudgetKey           = "run.generation_budget"
	runWindowKey           = "run.no_improvement_window"
	runDeltaKey            = "run.no_improvement_delta"
	runTargetScoreKey      = "run.target_score"
	runTargetLineKey       = "run.target_line_coverage"
	runTargetBranchKey     = "run.target_branch_coverage"
	runExcludeProcessedKey = "run.exclude_processed"
	runStateFileKey        = "run.state_file"

	storePathKey  = "store.path"
	sandboxDirKey = "sandbox.dir"
	auditDirKey   = "audit.dir"

	generatorTimeoutKey = "generator.timeout"

	buildCompileCmdKey      = "build.compile_cmd"
	buildTestCmdKey         = "build.test_cmd"
	buildCoverageCmdKey     = "build.coverage_cmd"
	buildReportDirKey       = "build.test_report_dir"
	buildCoverageFileKey    = "build.coverage_file"
	buildCompileTimeoutKey  = "build.compile_timeout"
	buildTestTimeoutKey     = "build.test_timeout"
	buildCoverageTimeoutKey = "build.coverage_timeout"

	defaultStorePath  = ".coevo/coevo.db"
	defaultSandboxDir = ".coevo/sandboxes"
	defaultAuditDir   = ".coevo/audit"

	envPrefix = "COEVO"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".coevo.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(configVersionKey, currentConfigVersion)

	viper.SetDefault(runParallelKey, 4)
	viper.SetDefault(runBatchKey, 4)
	viper.SetDefault(runStrategyKey, "coverage-first")
	viper.SetDefault(runIterationsKey, 0)
	viper.SetDefault(runBudgetKey, 0)
	viper.SetDefault(runWindowKey, 5)
	viper.SetDefault(runDeltaKey, 0.005)
	viper.SetDefault(runTargetScoreKey, 0.95)
	viper.SetDefault(runTargetLineKey, 0.95)
	viper.SetDefault(runTargetBranchKey, 0.90)
	viper.SetDefault(runExcludeProcessedKey, false)
	viper.SetDefault(runStateFileKey, ".coevo/run-state.yaml")

	viper.SetDefault(storePathKey, defaultStorePath)
	viper.SetDefault(sandboxDirKey, defaultSandboxDir)
	viper.SetDefault(auditDirKey, defaultAuditDir)

	viper.SetDefault(generatorTimeoutKey, int64((2 * time.Minute).Seconds()))

	viper.SetDefault(buildCompileCmdKey, []string{"mvn", "-q", "-B", "compile", "test-compile"})
	viper.SetDefault(buildTestCmdKey, []string{"mvn", "-q", "-B", "test"})
	viper.SetDefault(buildCoverageCmdKey, []string{"mvn", "-q", "-B", "verify"})
	viper.SetDefault(buildReportDirKey, "target/surefire-reports")
	viper.SetDefault(buildCoverageFileKey, "target/site/jacoco/jacoco.xml")
	viper.SetDefault(buildCompileTimeoutKey, int64((5 * time.Minute).Seconds()))
	viper.SetDefault(buildTestTimeoutKey, int64((10 * time.Minute).Seconds()))
	viper.SetDefault(buildCoverageTimeoutKey, int64((15 * time.Minute).Seconds()))

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return
		}

		return
	}
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

func buildTimeout(key string) time.Duration {
	return time.Duration(viper.GetInt64(key)) * time.Second
}
