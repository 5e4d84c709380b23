package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"receipts/internal"
	"receipts/internal/config"
	"receipts/internal/connectors"
	gmailconnector "receipts/internal/connectors/gmail"
	imapconnector "receipts/internal/connectors/imap"
	"receipts/internal/logger"
	"receipts/internal/pipeline"
	"receipts/internal/render"
	"receipts/internal/storage"
	"receipts/internal/util"
)

const exitUsage = 99

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("receipt-fetch", flag.ContinueOnError)
	var (
		configPath string
		expenses   bool
		handlers   string
		servers    string
		force      bool
		help       bool
	)
	fs.StringVar(&configPath, "c", "", "config file")
	fs.StringVar(&configPath, "config", "", "config file")
	fs.BoolVar(&expenses, "e", false, "expenses mode (default: mobility package)")
	fs.BoolVar(&expenses, "expenses", false, "expenses mode (default: mobility package)")
	fs.StringVar(&handlers, "h", "", "comma separated handlers to run")
	fs.StringVar(&handlers, "handlers", "", "comma separated handlers to run")
	fs.StringVar(&servers, "s", "", "comma separated servers to query")
	fs.StringVar(&servers, "servers", "", "comma separated servers to query")
	fs.BoolVar(&force, "f", false, "overwrite existing files")
	fs.BoolVar(&force, "force-overwrite", false, "overwrite existing files")
	fs.BoolVar(&help, "help", false, "show this help")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if help {
		fs.Usage()
		return exitUsage
	}

	log := logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, config.ErrNoConfigFile) {
			fmt.Fprintf(os.Stderr, "searched: %s\n", strings.Join(config.SearchPaths(), ", "))
		}
		return config.ExitCode(err)
	}
	log.Debug("config loaded", "path", cfg.Path)

	mode := internal.ModeMobilityPackage
	if expenses {
		mode = internal.ModeExpenses
	}
	dispatcher := pipeline.NewDispatcher(pipeline.DefaultRules(), pipeline.DispatchOptions{
		Mode:           mode,
		PaymentMethods: cfg.PaymentMethods(mode),
	})
	rules, err := dispatcher.Rules(util.SplitCSV(handlers))
	if err != nil {
		return fail(err)
	}
	names, err := selectServers(cfg, util.SplitCSV(servers))
	if err != nil {
		return fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chrome := render.NewChrome(cfg.Chrome, log)
	defer func() {
		if err := chrome.Close(); err != nil {
			log.Warn("closing chrome", "err", err)
		}
	}()

	filter := strings.Join(fs.Args(), " ")
	store := storage.NewFileStore(cfg.OutputDir, force)
	svc := pipeline.NewFetchService(dispatcher, rules, chrome, store, pipeline.FetchOptions{
		Mode:        mode,
		Since:       cfg.Since,
		ExtraFilter: filter,
	}, log)
	if cfg.RawDir != "" {
		svc.WithArchive(storage.NewRawArchive(cfg.RawDir))
	}
	report := pipeline.NewReport()

	if cfg.Journal != "" {
		db, err := storage.Open(cfg.Journal)
		if err != nil {
			return fail(fmt.Errorf("open journal: %w", err))
		}
		defer db.Close()
		runID, err := db.StartRun(mode, filter)
		if err != nil {
			return fail(fmt.Errorf("start run: %w", err))
		}
		svc.WithJournal(db, runID)
		defer func() {
			if err := db.FinishRun(runID, report.Counts()); err != nil {
				log.Warn("journal finish failed", "err", err)
			}
		}()
		log.Info("journal run started", "run", runID)
	}

	log.Info("fetching receipts", "mode", mode, "handlers", len(rules), "servers", strings.Join(names, ","))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		runServer(ctx, log, svc, name, cfg.Servers[name], report)
	}

	report.Log(log)
	if report.HasFailures() || ctx.Err() != nil {
		return 2
	}
	return 0
}

func runServer(ctx context.Context, log *slog.Logger, svc *pipeline.FetchService, name string, srv config.Server, report *pipeline.Report) {
	log.Info("connecting", "server", name, "provider", srv.Provider, "host", srv.Host)
	src, err := openSource(ctx, srv)
	if err != nil {
		report.Fail(internal.Outcome{Server: name}, fmt.Errorf("connect: %w", err))
		log.Error("cannot connect", "server", name, "err", err)
		return
	}
	defer src.Close()

	if err := svc.RunServer(ctx, name, src, report); err != nil {
		report.Fail(internal.Outcome{Server: name}, err)
		log.Error("server aborted", "server", name, "err", err)
	}
}

func openSource(ctx context.Context, srv config.Server) (connectors.MailSource, error) {
	switch srv.Provider {
	case config.ProviderGmail:
		return gmailconnector.NewConnector(ctx, srv)
	case config.ProviderIMAP:
		return imapconnector.NewConnector(srv)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", srv.Provider)
	}
}

func selectServers(cfg config.Config, wanted []string) ([]string, error) {
	if len(wanted) == 0 {
		return cfg.ServerNames(), nil
	}
	for _, name := range wanted {
		if _, ok := cfg.Servers[name]; !ok {
			return nil, fmt.Errorf("unknown server: %s", name)
		}
	}
	return wanted, nil
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintln(out, "usage: receipt-fetch [options] [imap-filter]")
	fmt.Fprintln(out, "options:")
	fmt.Fprintln(out, "  -c, --config PATH          config file")
	fmt.Fprintln(out, "  -e, --expenses             expenses mode (default: mobility package)")
	fmt.Fprintln(out, "  -h, --handlers a,b         only run these handlers")
	fmt.Fprintln(out, "  -s, --servers x,y          only query these servers")
	fmt.Fprintln(out, "  -f, --force-overwrite      overwrite existing files")
	fmt.Fprintln(out, "      --help                 show this help")
	fmt.Fprintln(out, "handlers:")
	for _, r := range pipeline.DefaultRules() {
		fmt.Fprintf(out, "  %-24s %s\n", r.ID, r.Label)
	}
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
