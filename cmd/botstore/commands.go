package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/conorfennell/homebase/internal/botstore"
	"github.com/conorfennell/homebase/internal/botweb"
	"github.com/conorfennell/homebase/internal/config"
	"github.com/conorfennell/homebase/internal/httpserver"
	"github.com/conorfennell/homebase/internal/logging"
)

// flags holds the global options shared by every subcommand.
type flags struct {
	ConfigPath string
	Root       string
	LogLevel   string
}

// app is populated in Before so subcommands share one registry.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *botstore.Registry
}

func newApp(out io.Writer) *cli.Command {
	f := &flags{}
	a := &app{}

	return &cli.Command{
		Name:      "botstore",
		Usage:     "Browse, install and remove bot packages",
		UsageText: "botstore [global options] command [command options]",
		Description: `Packages live in the packages directory, one per subdirectory, each
with a manifest.json (or manifest.yaml) declaring the permissions it needs.
Installing copies the package; nothing in it is ever executed.`,
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a YAML config file",
				Sources:     cli.EnvVars("HOMEBASE_CONFIG"),
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "root",
				Usage:       "directory relative paths are resolved against",
				Destination: &f.Root,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Destination: &f.LogLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			overrides := map[string]any{}
			if f.Root != "" {
				overrides["root"] = f.Root
			}
			if f.LogLevel != "" {
				overrides["log.level"] = f.LogLevel
			}
			cfg, err := config.Load(config.LoadOptions{File: f.ConfigPath, Overrides: overrides})
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			a.cfg, a.logger = cfg, logger
			a.registry = botstore.NewRegistry(cfg.BotStore.PackagesDir, cfg.BotStore.InstalledDir, cfg.BotStore.PublicDir)
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List available packages",
				Action: a.runList,
			},
			{
				Name:   "installed",
				Usage:  "List installed packages",
				Action: a.runInstalled,
			},
			{
				Name:      "info",
				Usage:     "Show a package manifest and its checksum",
				ArgsUsage: "<name>",
				Action:    a.runInfo,
			},
			{
				Name:      "install",
				Usage:     "Install a package after showing the permissions it requests",
				ArgsUsage: "<name>",
				Action:    a.runInstall,
			},
			{
				Name:      "uninstall",
				Usage:     "Remove an installed package",
				ArgsUsage: "<name>",
				Action:    a.runUninstall,
			},
			{
				Name:   "build-catalog",
				Usage:  "Write catalog.json for all valid packages into the public directory",
				Action: a.runBuildCatalog,
			},
			{
				Name:      "check",
				Usage:     "Ask whether a package's permissions allow an action",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "tool", Usage: "tool name"},
					&cli.StringSliceFlag{Name: "read", Usage: "file path to read"},
					&cli.StringSliceFlag{Name: "write", Usage: "file path to write"},
					&cli.StringSliceFlag{Name: "host", Usage: "network host"},
				},
				Action: a.runCheck,
			},
			{
				Name:  "serve",
				Usage: "Run the web catalog",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address (default from config)"},
				},
				Action: a.runServe,
			},
		},
	}
}

func nameArg(c *cli.Command) (string, error) {
	name := strings.TrimSpace(c.Args().First())
	if name == "" {
		return "", fmt.Errorf("%s: package name required", c.Name)
	}
	return name, nil
}

func printPackages(w io.Writer, pkgs []botstore.Package) error {
	if len(pkgs) == 0 {
		_, err := fmt.Fprintln(w, "No packages found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range pkgs {
		if p.Manifest == nil {
			fmt.Fprintf(tw, "%s\t(invalid)\t%v\n", p.Name, p.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Manifest.Version, p.Manifest.Description)
	}
	return tw.Flush()
}

func (a *app) runList(ctx context.Context, c *cli.Command) error {
	pkgs, err := a.registry.Available()
	if err != nil {
		return err
	}
	return printPackages(c.Root().Writer, pkgs)
}

func (a *app) runInstalled(ctx context.Context, c *cli.Command) error {
	pkgs, err := a.registry.Installed()
	if err != nil {
		return err
	}
	return printPackages(c.Root().Writer, pkgs)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) runInfo(ctx context.Context, c *cli.Command) error {
	name, err := nameArg(c)
	if err != nil {
		return err
	}
	p, err := a.registry.Find(name)
	if err != nil {
		return err
	}
	sum, err := botstore.Checksum(p.ManifestPath)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", p.ManifestPath, err)
	}

	return writeJSON(c.Root().Writer, struct {
		Manifest  *botstore.Manifest `json:"manifest"`
		Path      string             `json:"path"`
		Checksum  string             `json:"sha256"`
		Installed bool               `json:"installed"`
	}{p.Manifest, p.ManifestPath, sum, a.registry.IsInstalled(name)})
}

func (a *app) runInstall(ctx context.Context, c *cli.Command) error {
	name, err := nameArg(c)
	if err != nil {
		return err
	}
	p, err := a.registry.Find(name)
	if err != nil {
		return err
	}

	w := c.Root().Writer
	fmt.Fprintf(w, "Permissions requested by %s:\n", name)
	if err := writeJSON(w, p.Manifest.Permissions); err != nil {
		return err
	}

	res, err := a.registry.Install(name)
	if err != nil {
		return err
	}
	return printResult(w, "Installed.", res)
}

func (a *app) runUninstall(ctx context.Context, c *cli.Command) error {
	name, err := nameArg(c)
	if err != nil {
		return err
	}
	res, err := a.registry.Uninstall(name)
	if err != nil {
		return err
	}
	return printResult(c.Root().Writer, "Uninstalled.", res)
}

func printResult(w io.Writer, done string, res botstore.Result) error {
	if res.Changed {
		_, err := fmt.Fprintln(w, done)
		return err
	}
	_, err := fmt.Fprintf(w, "Skipped (%s).\n", res.Reason)
	return err
}

func (a *app) runBuildCatalog(ctx context.Context, c *cli.Command) error {
	path, err := a.registry.BuildCatalog()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Root().Writer, "Wrote %s\n", path)
	return err
}

// errDenied makes check exit non-zero when any query is refused.
var errDenied = errors.New("permission denied")

func (a *app) runCheck(ctx context.Context, c *cli.Command) error {
	name, err := nameArg(c)
	if err != nil {
		return err
	}
	p, err := a.registry.Find(name)
	if err != nil {
		return err
	}
	perms := p.Manifest.Permissions

	w := c.Root().Writer
	denied := false
	report := func(kind, value string, ok bool) {
		verdict := "allow"
		if !ok {
			verdict = "deny"
			denied = true
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", verdict, kind, value)
	}
	for _, v := range c.StringSlice("tool") {
		report("tool", v, perms.AllowsTool(v))
	}
	for _, v := range c.StringSlice("read") {
		report("read", v, perms.AllowsRead(v))
	}
	for _, v := range c.StringSlice("write") {
		report("write", v, perms.AllowsWrite(v))
	}
	for _, v := range c.StringSlice("host") {
		report("host", v, perms.AllowsHost(v))
	}

	if denied {
		return errDenied
	}
	return nil
}

func (a *app) runServe(ctx context.Context, c *cli.Command) error {
	addr := c.String("addr")
	if addr == "" {
		addr = a.cfg.BotStore.Addr
	}

	srv, err := botweb.NewServer(a.registry)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hs, err := httpserver.Listen(addr, logging.Middleware(a.logger, srv))
	if err != nil {
		return err
	}
	return hs.Serve(ctx)
}
