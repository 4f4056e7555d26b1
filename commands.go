package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"dsctrack/config"
	"dsctrack/internal/api"
	"dsctrack/internal/bulk"
	"dsctrack/internal/ledger"
	"dsctrack/internal/logs"
	"dsctrack/internal/models"
	"dsctrack/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP server",
		Action: runServe,
	}
}

func runServe(ctx context.Context, _ *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app := &server.App{}
	if err := app.Initialize(ctx, cfg); err != nil {
		return err
	}
	return app.Run()
}

// withServices загружает конфиг и собирает сервисы для одноразовой команды.
// Логгер не переинициализируется: остаётся stderr, stdout свободен под данные.
func withServices(ctx context.Context, fn func(*server.Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	svc, err := server.NewServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write a backup or CSV export",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "json", Usage: "json | dscs-csv | users-csv"},
			&cli.StringFlag{Name: "out", Value: "-", Usage: "output file, - for stdout"},
			&cli.BoolFlag{Name: "s3", Usage: "upload the JSON backup to the configured S3 bucket instead"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withServices(ctx, func(svc *server.Services) error {
				format := c.String("format")
				if c.Bool("s3") {
					if format != "json" {
						return errors.New("--s3 only supports --format json")
					}
					key, err := svc.Bulk.UploadBackup(ctx, time.Now())
					if err != nil {
						return err
					}
					logs.Logger.WithField("key", key).Info("backup uploaded")
					return nil
				}

				var export func(context.Context, io.Writer) error
				switch format {
				case "json":
					export = svc.Bulk.ExportJSON
				case "dscs-csv":
					export = svc.Bulk.ExportDSCsCSV
				case "users-csv":
					export = svc.Bulk.ExportUsersCSV
				default:
					return fmt.Errorf("unknown format %q", format)
				}
				return writeOut(c.String("out"), func(w io.Writer) error { return export(ctx, w) })
			})
		},
	}
}

func writeOut(path string, fn func(io.Writer) error) error {
	if path == "-" {
		return fn(os.Stdout)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Replace the dataset from a backup or a DSC CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "json", Usage: "json | dscs-csv"},
			&cli.StringFlag{Name: "in", Value: "-", Usage: "input file, - for stdin"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var in io.Reader = os.Stdin
			if p := c.String("in"); p != "-" {
				f, err := os.Open(p)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return withServices(ctx, func(svc *server.Services) error {
				var (
					sum *bulk.Summary
					err error
				)
				switch f := c.String("format"); f {
				case "json":
					sum, err = svc.Bulk.ImportJSON(ctx, in)
				case "dscs-csv":
					sum, err = svc.Bulk.ImportDSCsCSV(ctx, in)
				default:
					return fmt.Errorf("unknown format %q", f)
				}
				var ie *bulk.InputError
				if errors.As(err, &ie) {
					for _, p := range ie.Problems {
						logs.Logger.Error(p)
					}
				}
				if err != nil {
					return err
				}
				for _, w := range sum.Warnings {
					logs.Logger.Warn(w)
				}
				logs.Logger.WithField("users", sum.Users).WithField("dscs", sum.DSCs).Info("import completed")
				return nil
			})
		},
	}
}

func bootstrapLeaderCommand() *cli.Command {
	return &cli.Command{
		Name:  "bootstrap-leader",
		Usage: "Create the first leader account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Required: true},
			&cli.StringFlag{Name: "name", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withServices(ctx, func(svc *server.Services) error {
				ctx := ledger.WithActor(ctx, ledger.SystemActor)
				users, err := svc.Ledger.ListUsers(ctx)
				if err != nil {
					return err
				}
				for _, u := range users {
					if u.Role == models.RoleLeader {
						return fmt.Errorf("leader %q already exists", u.Name)
					}
				}
				u, err := api.RegisterUser(ctx, svc.Identity, svc.Ledger,
					c.String("email"), c.String("password"), c.String("name"), models.RoleLeader)
				if err != nil {
					return err
				}
				logs.Logger.WithField("id", u.ID).WithField("name", u.Name).Info("leader created")
				return nil
			})
		},
	}
}
