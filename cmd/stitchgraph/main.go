package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	config "github.com/hanpama/stitchgraph/internal/config"
	demo "github.com/hanpama/stitchgraph/internal/demo"
	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	gateway "github.com/hanpama/stitchgraph/internal/gateway"
	logging "github.com/hanpama/stitchgraph/internal/logging"
	merge "github.com/hanpama/stitchgraph/internal/merge"
	otel "github.com/hanpama/stitchgraph/internal/otel"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	remote "github.com/hanpama/stitchgraph/internal/remote"
	server "github.com/hanpama/stitchgraph/internal/server"
)

const rootUsage = `stitchgraph: GraphQL schema stitching gateway

USAGE:
  stitchgraph <command> [flags]

COMMANDS:
  serve            Run the HTTP gateway over the configured schemas
  print-schema     Print the unified schema as SDL
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -config <file>                  YAML configuration file
  -remote <name=url>              Add a remote GraphQL schema. Repeatable
  -demo <bool>                    Register the built-in chirps and users schemas
  -server.port <n>                HTTP listen port (default: 2000)
  -server.pretty                  Pretty-print JSON responses
  -server.timeout <duration>      Per-request timeout, e.g. 10s (default: 10s)
  -server.forward-header <name>   Forward HTTP header to remote schemas. Repeatable
  -otel.endpoint <addr>           OTLP collector endpoint
  -otel.service <name>            OpenTelemetry service name (default: stitchgraph)
  -log.level <level>              debug, info, warn or error (default: info)
  -log.development                Human-readable console logs
  Flags override values from -config.
`

const printSchemaUsage = `print-schema FLAGS:
  -config <file>          YAML configuration file
  -remote <name=url>      Add a remote GraphQL schema. Repeatable
  -demo <bool>            Register the built-in chirps and users schemas
  -out <file>             Write SDL to file (default: stdout)
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "stitchgraph:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("stitchgraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer))
	if err := global.Parse(args); err != nil {
		fmt.Fprint(stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs, stderr)
	case "print-schema":
		return cmdPrintSchema(cmdArgs, stdout, stderr)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	case "print-schema":
		fmt.Fprint(stdout, printSchemaUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type remoteFlag []config.Remote

func (r *remoteFlag) String() string { return "" }

func (r *remoteFlag) Set(v string) error {
	name, url, ok := strings.Cut(v, "=")
	name, url = strings.TrimSpace(name), strings.TrimSpace(url)
	if !ok || name == "" || url == "" {
		return fmt.Errorf("invalid remote %q", v)
	}
	*r = append(*r, config.Remote{Name: name, URL: url})
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// sourceFlags are shared by commands that build the unified schema.
type sourceFlags struct {
	configFile string
	remotes    remoteFlag
	demo       bool
}

func (f *sourceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configFile, "config", "", "YAML configuration file")
	fs.Var(&f.remotes, "remote", "Add a remote GraphQL schema")
	fs.BoolVar(&f.demo, "demo", true, "Register the built-in demo schemas")
}

// load reads the configuration file, if any, and applies the flags that
// were set on the command line.
func (f *sourceFlags) load(fs *flag.FlagSet, apply func(name string, cfg *config.Config)) (*config.Config, error) {
	cfg := config.Default()
	if f.configFile != "" {
		loaded, err := config.Load(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "demo":
			cfg.Demo = f.demo
		case "remote":
			cfg.Remotes = append(cfg.Remotes, f.remotes...)
		default:
			if apply != nil {
				apply(fl.Name, cfg)
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildGateway introspects remotes, registers the demo schemas when enabled
// and merges everything with the configured extensions.
func buildGateway(ctx context.Context, cfg *config.Config) (*gateway.Gateway, error) {
	reg := registry.New()
	descs, err := remote.LoadAll(ctx, cfg.Endpoints(), cfg.RemoteOptions()...)
	if err != nil {
		return nil, fmt.Errorf("load remotes: %w", err)
	}
	exts, err := cfg.Extensions.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Demo {
		local, err := demo.Schemas(demo.NewStore())
		if err != nil {
			return nil, fmt.Errorf("demo schemas: %w", err)
		}
		descs = append(descs, local...)
		demoExts, err := demo.Extensions()
		if err != nil {
			return nil, fmt.Errorf("demo extensions: %w", err)
		}
		exts = append(exts, demoExts...)
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	unified, err := merge.Merge(reg.Descriptors(), exts)
	if err != nil {
		return nil, fmt.Errorf("merge schemas: %w", err)
	}
	return gateway.New(unified, cfg.GatewayOptions()...)
}

func cmdServe(args []string, stderr io.Writer) error {
	var src sourceFlags
	var (
		port           int
		pretty         bool
		timeout        time.Duration
		forwardHeaders stringListFlag
		otelEndpoint   string
		otelService    string
		logLevel       string
		logDev         bool
	)
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	src.register(fs)
	fs.IntVar(&port, "server.port", 0, "HTTP listen port")
	fs.BoolVar(&pretty, "server.pretty", false, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", 0, "Per-request timeout")
	fs.Var(&forwardHeaders, "server.forward-header", "Forward HTTP header to remote schemas")
	fs.StringVar(&otelEndpoint, "otel.endpoint", "", "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", "", "OpenTelemetry service name")
	fs.StringVar(&logLevel, "log.level", "", "Log level")
	fs.BoolVar(&logDev, "log.development", false, "Human-readable console logs")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, serveUsage)
		return err
	}
	cfg, err := src.load(fs, func(name string, cfg *config.Config) {
		switch name {
		case "server.port":
			cfg.Server.Port = port
		case "server.pretty":
			cfg.Server.Pretty = pretty
		case "server.timeout":
			cfg.Server.Timeout = timeout
		case "server.forward-header":
			cfg.Server.ForwardHeaders = append(cfg.Server.ForwardHeaders, forwardHeaders...)
		case "otel.endpoint":
			cfg.Otel.Endpoint = otelEndpoint
		case "otel.service":
			cfg.Otel.Service = otelService
		case "log.level":
			cfg.Log.Level = logLevel
		case "log.development":
			cfg.Log.Development = logDev
		}
	})
	if err != nil {
		fmt.Fprint(stderr, serveUsage)
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	eventbus.Use(eventbus.New())
	defer logging.Register(logger)()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := otel.Setup(ctx, cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		logger.Error("gateway startup failed", zap.Error(err))
		return err
	}
	for _, d := range gw.Schema().Descriptors() {
		logger.Info("schema registered", zap.String("schema", d.Name()))
	}

	h, err := server.New(gw, append(cfg.ServerOptions(), server.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/graphql", otelhttp.NewHandler(h, "graphql"))
	if cfg.Server.GraphiQL {
		mux.Handle("/graphiql", server.GraphiQL("/graphql"))
	}

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Server.Port), Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("gateway listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func cmdPrintSchema(args []string, stdout, stderr io.Writer) error {
	var src sourceFlags
	outFile := ""
	fs := flag.NewFlagSet("print-schema", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	src.register(fs)
	fs.StringVar(&outFile, "out", outFile, "Write SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, printSchemaUsage)
		return err
	}
	cfg, err := src.load(fs, nil)
	if err != nil {
		fmt.Fprint(stderr, printSchemaUsage)
		return err
	}
	gw, err := buildGateway(context.Background(), cfg)
	if err != nil {
		return err
	}
	sdl := gw.Schema().SDL()
	if outFile == "" {
		_, err := io.WriteString(stdout, sdl)
		return err
	}
	return os.WriteFile(outFile, []byte(sdl), 0644)
}
