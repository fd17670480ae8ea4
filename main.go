// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"github.com/empa-scientific-it/openbis-uploader/auth"
	"github.com/empa-scientific-it/openbis-uploader/broker"
	"github.com/empa-scientific-it/openbis-uploader/config"
	"github.com/empa-scientific-it/openbis-uploader/credentials"
	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/instance"
	"github.com/empa-scientific-it/openbis-uploader/jobs"
	"github.com/empa-scientific-it/openbis-uploader/journal"
	"github.com/empa-scientific-it/openbis-uploader/openbis"
	"github.com/empa-scientific-it/openbis-uploader/services"

	// compiled parsers register themselves in the catalog
	_ "github.com/empa-scientific-it/openbis-uploader/parsers/icpms"
)

//go:generate mkdir -p services/docs
//go:generate redoc-cli bundle docs/openapi.yaml
//go:generate cp docs/openapi.yaml services/docs/openapi.yaml
//go:generate mv redoc-static.html services/docs/index.html

// The above logic bundles the API reference into services/docs. To serve it
// at /docs, you must use the "docs" build: go build -tags docs

// reads the configuration file and sets up logging accordingly
func initConfig(configFile string) error {
	slog.Info(fmt.Sprintf("Reading configuration from '%s'...", configFile))
	b, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Couldn't read %s: %s", configFile, err.Error())
	}
	if err = config.Init(b); err != nil {
		return fmt.Errorf("Couldn't initialize the configuration: %s", err.Error())
	}
	level := slog.LevelInfo
	if config.Service.Debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// the LIMS client named by the configuration
func newLimsClient() openbis.Client {
	if config.Lims.InMemory {
		slog.Warn("Using an in-process LIMS; its content is lost on exit")
		m := openbis.NewMemory()
		if config.Lims.ServiceUser != "" {
			m.AddUser(config.Lims.ServiceUser, config.Lims.ServicePassword)
		}
		return m
	}
	return openbis.NewRPCFromConfig()
}

// the collaborators shared by the API service and the worker
type backends struct {
	broker      *broker.Broker
	credentials *credentials.Context
	store       *credentials.Store
	directory   *auth.DirectoryServer
	lims        *auth.LimsServer
	manager     *auth.Manager
}

func newBackends(client openbis.Client) (*backends, error) {
	b, err := broker.NewFromConfig()
	if err != nil {
		return nil, err
	}
	c, err := credentials.NewContextFromConfig()
	if err != nil {
		b.Close()
		return nil, err
	}
	store, err := credentials.NewStoreFromConfig(c, b)
	if err != nil {
		b.Close()
		return nil, err
	}
	directory := auth.NewDirectoryServerFromConfig(c, store)
	lims := auth.NewLimsServerFromConfig(c, store, client)
	manager, err := auth.NewManager(c, store, auth.LimsService, directory, lims)
	if err != nil {
		b.Close()
		return nil, err
	}
	return &backends{
		broker:      b,
		credentials: c,
		store:       store,
		directory:   directory,
		lims:        lims,
		manager:     manager,
	}, nil
}

// creates a worker, with a journal if one is configured
func newWorker(b *backends, stores *datastore.Stores) (*jobs.Worker, *journal.Journal, error) {
	var j *journal.Journal
	if config.Service.JournalDirectory != "" {
		var err error
		if j, err = journal.OpenFromConfig(); err != nil {
			return nil, nil, err
		}
	}
	return jobs.NewWorkerFromConfig(b.broker, stores, b.lims, j), j, nil
}

// returns a context that ends on SIGINT, SIGHUP, SIGTERM or SIGQUIT
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)
}

//-------
// serve
//-------

type serveCommand struct {
	worker bool
}

func (*serveCommand) Name() string     { return "serve" }
func (*serveCommand) Synopsis() string { return "run the HTTP API service" }
func (*serveCommand) Usage() string {
	return `serve [-worker] <config_file>:
  Runs the HTTP API service. With -worker, transfer jobs are also run in
  this process (required for an in-process LIMS).
`
}

func (cmd *serveCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&cmd.worker, "worker", false, "also run transfer jobs in this process")
}

func (cmd *serveCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := initConfig(f.Arg(0)); err != nil {
		log.Println(err.Error())
		return subcommands.ExitFailure
	}
	b, err := newBackends(newLimsClient())
	if err != nil {
		log.Printf("Couldn't connect the backends: %s\n", err.Error())
		return subcommands.ExitFailure
	}
	defer b.broker.Close()

	ctx, stop := signalContext()
	defer stop()
	watcher, err := datastore.NewWatcher(ctx)
	if err != nil {
		log.Printf("Couldn't watch the parser manifests: %s\n", err.Error())
		return subcommands.ExitFailure
	}
	stores := datastore.NewStoresFromConfig(watcher)

	if cmd.worker {
		worker, j, err := newWorker(b, stores)
		if err != nil {
			log.Printf("Couldn't create the worker: %s\n", err.Error())
			return subcommands.ExitFailure
		}
		if j != nil {
			defer j.Close()
		}
		go func() {
			if err := worker.Run(ctx); err != nil {
				slog.Error(fmt.Sprintf("Worker stopped: %s", err.Error()))
			}
		}()
	}

	service, err := services.NewFromConfig(services.Dependencies{
		Auth:      b.manager,
		Directory: b.directory,
		Lims:      b.lims,
		Stores:    stores,
		Jobs:      jobs.NewOrchestratorFromConfig(b.broker),
	})
	if err != nil {
		log.Printf("Couldn't create the service: %s\n", err.Error())
		return subcommands.ExitFailure
	}

	// Start the service in a goroutine so it doesn't block.
	go func() {
		if err := service.Start(config.Service.Port); err != nil {
			log.Println(err.Error())
			stop()
		}
	}()

	// Block till we receive one of the above signals.
	<-ctx.Done()

	// Wait for connections to close until the deadline elapses.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	service.Shutdown(shutdownCtx)
	log.Println("Shutting down")
	return subcommands.ExitSuccess
}

//------
// work
//------

type workCommand struct{}

func (*workCommand) Name() string     { return "work" }
func (*workCommand) Synopsis() string { return "run transfer jobs from the queue" }
func (*workCommand) Usage() string {
	return `work <config_file>:
  Takes transfer jobs off the queue and runs them until interrupted.
`
}
func (*workCommand) SetFlags(*flag.FlagSet) {}

func (*workCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := initConfig(f.Arg(0)); err != nil {
		log.Println(err.Error())
		return subcommands.ExitFailure
	}
	if config.Lims.InMemory {
		log.Println("An in-process LIMS is only reachable from its own process; use serve -worker")
		return subcommands.ExitFailure
	}
	b, err := newBackends(newLimsClient())
	if err != nil {
		log.Printf("Couldn't connect the backends: %s\n", err.Error())
		return subcommands.ExitFailure
	}
	defer b.broker.Close()

	ctx, stop := signalContext()
	defer stop()
	watcher, err := datastore.NewWatcher(ctx)
	if err != nil {
		log.Printf("Couldn't watch the parser manifests: %s\n", err.Error())
		return subcommands.ExitFailure
	}
	worker, j, err := newWorker(b, datastore.NewStoresFromConfig(watcher))
	if err != nil {
		log.Printf("Couldn't create the worker: %s\n", err.Error())
		return subcommands.ExitFailure
	}
	if j != nil {
		defer j.Close()
	}
	if err = worker.Run(ctx); err != nil {
		log.Println(err.Error())
		return subcommands.ExitFailure
	}
	log.Println("Shutting down")
	return subcommands.ExitSuccess
}

//----------
// instance
//----------

type instanceCommand struct {
	types bool
}

func (*instanceCommand) Name() string     { return "instance" }
func (*instanceCommand) Synopsis() string { return "create, export or wipe LIMS content" }
func (*instanceCommand) Usage() string {
	return `instance create <config_file> <description>:
  Creates the types, hierarchy and users of a JSON or YAML description.
instance export <config_file> <output>:
  Writes the user-defined content of the LIMS as a JSON description.
instance wipe [-types] <config_file> <description>:
  Deletes the hierarchy of a description (and, with -types, its types).
The service account of the configuration is used for all three.
`
}

func (cmd *instanceCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&cmd.types, "types", false, "wipe: also delete the described types")
}

func (cmd *instanceCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	action, configFile, path := f.Arg(0), f.Arg(1), f.Arg(2)
	if err := initConfig(configFile); err != nil {
		log.Println(err.Error())
		return subcommands.ExitFailure
	}
	if config.Lims.ServiceUser == "" {
		log.Println("The instance commands need a LIMS service account")
		return subcommands.ExitFailure
	}
	ctx, stop := signalContext()
	defer stop()
	session, err := openbis.Login(ctx, newLimsClient(), config.Lims.ServiceUser,
		config.Lims.ServicePassword)
	if err != nil {
		log.Println(err.Error())
		return subcommands.ExitFailure
	}
	defer session.Logout(context.WithoutCancel(ctx))

	switch action {
	case "create":
		err = createInstance(ctx, session, path)
	case "export":
		err = exportInstance(ctx, session, path)
	case "wipe":
		err = wipeInstance(ctx, session, path, cmd.types)
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err != nil {
		log.Println(err.Error())
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func createInstance(ctx context.Context, session *openbis.Session, path string) error {
	d, err := instance.Load(path)
	if err != nil {
		return err
	}
	report, err := instance.Create(ctx, session, d)
	if err != nil {
		return err
	}
	log.Printf("Created %d entities, %d existed already\n", report.Changed, report.Unchanged)
	return nil
}

func exportInstance(ctx context.Context, session *openbis.Session, path string) error {
	d, _, err := instance.Reflect(ctx, session)
	if err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = instance.Export(out, d); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func wipeInstance(ctx context.Context, session *openbis.Session, path string, types bool) error {
	d, err := instance.Load(path)
	if err != nil {
		return err
	}
	tree := d.Tree()
	report, err := instance.Wipe(ctx, session, tree, tree.Root())
	if err != nil {
		return err
	}
	log.Printf("Deleted %d entities, kept %d\n", report.Changed, report.Unchanged)
	if types {
		report, err = instance.WipeTypes(ctx, session, d)
		if err != nil {
			return err
		}
		log.Printf("Deleted %d types, kept %d\n", report.Changed, report.Unchanged)
	}
	return nil
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&serveCommand{}, "")
	subcommands.Register(&workCommand{}, "")
	subcommands.Register(&instanceCommand{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
