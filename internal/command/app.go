package command

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"plutobridge/internal/config"
)

type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunFmt       func(ctx context.Context, cfg config.Config, path string, write bool) error
	RunHistory   func(ctx context.Context, cfg config.Config, path string, limit int) error
	RunMigrateUp func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "plutobridge",
		Usage: "Pluto notebook bridge",
		Action: func(ctx *cli.Context) error {
			cfg := loadConfig(deps)
			return runServe(ctx.Context, deps, cfg)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "connect to the Pluto server and expose notebook tools over stdio",
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(deps)
					return runServe(ctx.Context, deps, cfg)
				},
			},
			{
				Name:      "fmt",
				Usage:     "parse and reserialize a notebook file",
				ArgsUsage: "<notebook.jl>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "write", Aliases: []string{"w"}, Usage: "rewrite the file in place"},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return errors.New("fmt takes exactly one notebook file")
					}
					cfg := loadConfig(deps)
					return runFmt(ctx.Context, deps, cfg, ctx.Args().First(), ctx.Bool("write"))
				},
			},
			{
				Name:  "history",
				Usage: "show recorded notebook executions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "limit to one notebook file"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum rows to show"},
				},
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(deps)
					return runHistory(ctx.Context, deps, cfg, ctx.String("path"), ctx.Int("limit"))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							cfg := loadConfig(deps)
							return runMigrateUp(ctx.Context, deps, cfg)
						},
					},
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runFmt(ctx context.Context, deps Deps, cfg config.Config, path string, write bool) error {
	if deps.RunFmt == nil {
		return errors.New("fmt runner is not configured")
	}
	return deps.RunFmt(ctx, cfg, path, write)
}

func runHistory(ctx context.Context, deps Deps, cfg config.Config, path string, limit int) error {
	if deps.RunHistory == nil {
		return errors.New("history runner is not configured")
	}
	return deps.RunHistory(ctx, cfg, path, limit)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}
