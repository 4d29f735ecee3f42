// Command lego runs the toolkit's helpers from the shell: settings, AWS
// sessions, S3 transfers, secrets, DynamoDB keys, PostgreSQL queries and
// authenticated HTTP calls.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-errors/errors"
	legoaws "github.com/gurre/lego/aws"
	"github.com/gurre/lego/config"
	"github.com/gurre/lego/logging"
	"github.com/integrii/flaggy"
	"github.com/sirupsen/logrus"
)

var (
	commit  string
	version = "unversioned"
	date    string

	debugFlag    = false
	settingsFlag = ""
)

// command is a leaf subcommand and the function it runs.
type command struct {
	sc  *flaggy.Subcommand
	run func(ctx context.Context, a *app) error
}

// app carries what every command needs.
type app struct {
	settings     *config.Settings
	settingsPath string
	log          *logrus.Entry
	out          io.Writer

	clients *legoaws.Clients
}

func main() {
	flaggy.SetName("lego")
	flaggy.SetDescription("Helpers for HTTP APIs, S3, DynamoDB, Secrets Manager and PostgreSQL")
	flaggy.SetVersion(fmt.Sprintf("%s\nDate: %s\nCommit: %s\nOS: %s\nArch: %s",
		version, date, commit, runtime.GOOS, runtime.GOARCH))

	flaggy.Bool(&debugFlag, "d", "debug", "Log at debug level regardless of settings")
	flaggy.String(&settingsFlag, "", "settings", "Path of the settings file (default ~/.lp/settings.ini)")

	var commands []command
	for _, group := range []func() (*flaggy.Subcommand, []command){
		settingsCommands,
		sessionCommands,
		s3Commands,
		secretCommands,
		ddbCommands,
		dbCommands,
		httpCommands,
		credsCommands,
	} {
		sc, cmds := group()
		flaggy.AttachSubcommand(sc, 1)
		commands = append(commands, cmds...)
	}

	flaggy.Parse()

	var selected *command
	for i := range commands {
		if commands[i].sc.Used {
			selected = &commands[i]
		}
	}
	if selected == nil {
		flaggy.ShowHelpAndExit("")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err == nil {
		err = selected.run(ctx, a)
	}
	if err != nil {
		if a != nil && a.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			a.log.Debug(errors.Wrap(err, 0).ErrorStack())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp loads (or creates) the settings file, applies environment
// overrides and builds the logger.
func newApp() (*app, error) {
	path := settingsFlag
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	settings, created, err := config.Init(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}
	if err := settings.ApplyEnv(); err != nil {
		return nil, err
	}

	level := settings.LoggerLevel()
	if debugFlag {
		level = "debug"
	}
	log := logging.New(level, os.Stderr)
	if created {
		log.Infof("Created default settings at %s", path)
	}

	return &app{
		settings:     settings,
		settingsPath: path,
		log:          log,
		out:          os.Stdout,
	}, nil
}

// aws returns the AWS clients for the configured region, creating them on
// first use.
func (a *app) aws(ctx context.Context) (*legoaws.Clients, error) {
	if a.clients != nil {
		return a.clients, nil
	}
	opts := legoaws.SessionOptionsFromEnv(a.settings.AWSRegion())
	cfg, err := legoaws.LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.log.Debugf("Using AWS region %s", cfg.Region)
	a.clients = legoaws.NewClients(cfg)
	return a.clients, nil
}
