// Command gradectl grades local files with the same engine the service uses.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/itstheanurag/grader/internal/assembler"
	"github.com/itstheanurag/grader/internal/config"
	"github.com/itstheanurag/grader/internal/executor"
	"github.com/itstheanurag/grader/internal/grader"
	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/server"
)

// errNotAllPassed makes the process exit non-zero without printing twice.
var errNotAllPassed = errors.New("not all test cases passed")

func main() {
	cmd := &cli.Command{
		Name:  "gradectl",
		Usage: "grade submissions locally",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "problems", Usage: "directory of extra problem files"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log sandbox activity"},
		},
		Commands: []*cli.Command{
			{
				Name:      "grade",
				Usage:     "grade a source file against the problem it defines",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "timeout", Usage: "wall-clock limit per run"},
					&cli.StringFlag{Name: "driver", Usage: "sandbox driver: process or docker"},
					&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
				},
				Action: gradeAction,
			},
			{
				Name:   "problems",
				Usage:  "list known problems",
				Action: problemsAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if !errors.Is(err, errNotAllPassed) {
			fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		}
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, *zerolog.Logger, error) {
	conf, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if dir := cmd.String("problems"); dir != "" {
		conf.Problems.Dir = dir
	}
	level := zerolog.WarnLevel
	if cmd.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	return conf, &logger, nil
}

func gradeAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("a source file is required")
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	conf, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if d := cmd.Duration("timeout"); d > 0 {
		conf.Sandbox.WallTimeoutMs = int(d / time.Millisecond)
	}
	if driver := cmd.String("driver"); driver != "" {
		conf.Sandbox.Driver = driver
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	svc, closeSandbox, err := newService(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer closeSandbox()

	report, err := svc.Evaluate(ctx, string(source))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		renderReport(color.Output, report)
	}
	if report.Status != grading.StatusGraded || report.FailedCount > 0 {
		return errNotAllPassed
	}
	return nil
}

// newService builds the grading service. The returned func releases the
// sandbox's client connection and must be called once grading is done.
func newService(ctx context.Context, conf *config.Config, logger *zerolog.Logger) (*grader.Service, func(), error) {
	lang, err := server.Language(conf)
	if err != nil {
		return nil, nil, err
	}
	sb, err := server.NewSandbox(conf, logger)
	if err != nil {
		return nil, nil, err
	}
	closeSandbox := closerFor(sb, logger)
	if err := sb.EnsureRuntime(ctx, lang); err != nil {
		closeSandbox()
		return nil, nil, err
	}
	store, err := server.Problems(conf, logger)
	if err != nil {
		closeSandbox()
		return nil, nil, err
	}
	exec := executor.NewExecutor(lang, sb, server.Limits(conf), logger)
	svc := grader.NewService(grader.New(assembler.New(lang.Config.DefinitionKeyword), exec, logger), store, logger)
	return svc, closeSandbox, nil
}

// closerFor returns a func that closes sb when it holds a client
// connection, and a no-op otherwise.
func closerFor(sb any, logger *zerolog.Logger) func() {
	c, ok := sb.(io.Closer)
	if !ok {
		return func() {}
	}
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close sandbox client")
		}
	}
}

func problemsAction(_ context.Context, cmd *cli.Command) error {
	conf, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := server.Problems(conf, logger)
	if err != nil {
		return err
	}
	renderProblems(color.Output, store)
	return nil
}
