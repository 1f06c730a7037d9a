package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xhad/claimcheck/internal/models"
	cfgPkg "github.com/xhad/claimcheck/pkg/config"
	"github.com/xhad/claimcheck/pkg/llm"
	"github.com/xhad/claimcheck/pkg/service"
	"github.com/xhad/claimcheck/server"
)

type options struct {
	configPath string
	output     string
	kind       string
	port       int
	command    string
	args       []string
}

const usage = `Usage: claimcheck [flags] <command> [args]

Commands:
  serve                      start the web UI and API
  extract <document.pdf>     extract fields from a claim document
  compare <ar1.pdf> <nf3.pdf> reconcile AR1 and NF3 billed line items

Flags:
`

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		color.Red("%v", err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		var respErr *llm.ResponseError
		if errors.As(err, &respErr) {
			color.Red("Failed to parse model response as JSON.")
			fmt.Println(respErr.Raw)
		} else {
			color.Red("Error: %v", err)
		}
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("claimcheck", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.output, "o", "", "Write the extracted JSON to this file")
	fs.StringVar(&opts.kind, "kind", string(models.KindClaim), "Extraction prompt for extract: claim or billing")
	fs.IntVar(&opts.port, "port", 0, "Port for serve (overrides config)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return opts, errors.New("missing command")
	}
	opts.command, opts.args = rest[0], rest[1:]

	switch opts.command {
	case "serve":
	case "extract":
		if len(opts.args) != 1 {
			return opts, errors.New("extract takes exactly one PDF")
		}
		if !models.DocumentKind(opts.kind).Valid() {
			return opts, fmt.Errorf("unknown kind: %s", opts.kind)
		}
	case "compare":
		if len(opts.args) != 2 {
			return opts, errors.New("compare takes an AR1 PDF and an NF3 PDF")
		}
	default:
		return opts, fmt.Errorf("unknown command: %s", opts.command)
	}
	return opts, nil
}

func run(opts options) error {
	cfg, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return errors.New("invalid configuration")
	}

	logger, err := newLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc, cleanup, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch opts.command {
	case "serve":
		srv, err := server.New(server.Config{
			Port:           cfg.Server.Port,
			ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
			MaxUploadBytes: int64(cfg.Intake.MaxUploadMB) << 20,
		}, svc, logger)
		if err != nil {
			return err
		}
		color.Cyan("Serving on http://localhost:%d", cfg.Server.Port)
		return srv.ListenAndServe(ctx)

	case "extract":
		up, err := readUpload(opts.args[0])
		if err != nil {
			return err
		}
		spinner := getSpinner("Reading and analyzing...")
		doc, err := svc.ExtractDocument(ctx, up, models.DocumentKind(opts.kind))
		spinner.Finish()
		fmt.Print("\r")
		if err != nil {
			return err
		}
		printDocument(os.Stdout, doc)
		if opts.output != "" {
			return writeExport(opts.output, doc.Export)
		}
		return nil

	case "compare":
		ar1, err := readUpload(opts.args[0])
		if err != nil {
			return err
		}
		nf3, err := readUpload(opts.args[1])
		if err != nil {
			return err
		}
		spinner := getSpinner("Extracting data from both documents...")
		cmp, err := svc.Compare(ctx, ar1, nf3)
		spinner.Finish()
		fmt.Print("\r")
		if err != nil {
			return err
		}
		printComparison(os.Stdout, cmp)
		if opts.output != "" {
			return writeExport(opts.output, cmp.Export)
		}
		return nil
	}
	return nil
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}

func readUpload(path string) (service.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return service.Upload{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return service.Upload{Filename: filepath.Base(path), Data: data}, nil
}

func writeExport(path string, export func() ([]byte, error)) error {
	data, err := export()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	color.Green("✓ Saved %s", path)
	return nil
}
