// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianTodo/cmd/todo/config"
	"github.com/AleutianAI/AleutianTodo/pkg/client"
	"github.com/AleutianAI/AleutianTodo/pkg/extensions"
	"github.com/AleutianAI/AleutianTodo/pkg/logging"
	"github.com/AleutianAI/AleutianTodo/pkg/tui"
	"github.com/AleutianAI/AleutianTodo/services/todo"
	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/observability"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errReported marks a failure the user has already been told about.
var errReported = errors.New("reported")

// watchRetry is the pause before reconnecting a dropped change feed.
const watchRetry = 3 * time.Second

// app is the state shared by all commands of one invocation.
type app struct {
	configPath string
	cfg        config.Config
	viper      *viper.Viper
	logCfg     logging.Config
	logger     *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "todo",
		Short:         "A minimal personal to-do list",
		Long:          `Run the to-do server, or add, toggle and delete items from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.aleutian-todo/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "server URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the to-do server",
		Args:  cobra.NoArgs,
		RunE:  a.runServe,
	}
	serveCmd.Flags().Int("port", 0, "listen port")
	serveCmd.Flags().String("storage", "", "storage backend (sqlite, postgres, badger)")
	serveCmd.Flags().String("dsn", "", "sqlite path or postgres connection string")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List todos",
		Args:  cobra.NoArgs,
		RunE:  a.runList,
	}

	addCmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Add a todo",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runAdd,
	}

	toggleCmd := &cobra.Command{
		Use:   "toggle [id]",
		Short: "Mark a todo done (or not done with --undone)",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runToggle,
	}
	toggleCmd.Flags().Bool("undone", false, "mark the todo as not done")

	rmCmd := &cobra.Command{
		Use:     "rm [id]",
		Aliases: []string{"delete"},
		Short:   "Delete a todo",
		Args:    cobra.ExactArgs(1),
		RunE:    a.runDelete,
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the list again whenever it changes",
		Args:  cobra.NoArgs,
		RunE:  a.runWatch,
	}

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive to-do list",
		Args:  cobra.NoArgs,
		RunE:  a.runTUI,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Args:  cobra.NoArgs,
		RunE:  a.runConfigInit,
	}
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	// config init must not load (and so create) the file first.
	configInitCmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd, listCmd, addCmd, toggleCmd, rmCmd, watchCmd, tuiCmd, configCmd)
	return rootCmd
}

// load reads the config with flag overrides and sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	path, err := a.resolveConfigPath()
	if err != nil {
		return err
	}
	if created, err := config.EnsureDefault(path); err != nil {
		return err
	} else if created {
		fmt.Fprintf(cmd.ErrOrStderr(), "First run detected, created the config at %s\n", path)
	}

	v, err := config.NewViper(path)
	if err != nil {
		return err
	}
	a.viper = v
	bindings := map[string]string{
		"server":    "client.url",
		"token":     "client.token",
		"log-level": "log.level",
		"port":      "server.port",
		"storage":   "server.storage",
		"dsn":       "server.dsn",
	}
	for flagName, key := range bindings {
		if f := cmd.Flags().Lookup(flagName); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", flagName, err)
			}
		}
	}

	a.cfg, err = config.Decode(v)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(a.cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logCfg = logging.Config{
		Level:   level,
		LogDir:  a.cfg.Log.Dir,
		Service: "todo",
		JSON:    a.cfg.Log.JSON,
		Output:  cmd.ErrOrStderr(),
	}
	a.logger = logging.New(a.logCfg)
	slog.SetDefault(a.logger.Slog())
	if path := a.logger.FilePath(); path != "" {
		slog.Debug("logging to file", "path", path)
	}
	return nil
}

func (a *app) resolveConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.DefaultPath()
}

// =============================================================================
// Server
// =============================================================================

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	s := a.cfg.Server
	opts, err := a.serveOptions()
	if err != nil {
		return err
	}
	svc, err := todo.New(todo.Config{
		Host:           s.Host,
		Port:           s.Port,
		StorageBackend: s.Storage,
		DSN:            s.DSN,
		BadgerPath:     s.BadgerPath,
		GinMode:        s.GinMode,
		OTelEndpoint:   s.OTelEndpoint,
		RateLimit:      s.RateLimit,
		RateBurst:      s.RateBurst,
		Tokens:         s.TokenMap(),
	}, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

// serveOptions returns nil (service defaults) when no tokens are
// configured. With tokens, the provider follows edits to the config file
// so tokens can be added or revoked without a restart.
func (a *app) serveOptions() (*extensions.ServiceOptions, error) {
	tokens := a.cfg.Server.TokenMap()
	if len(tokens) == 0 {
		return nil, nil
	}
	provider, err := extensions.NewStaticTokenProvider(tokens)
	if err != nil {
		return nil, fmt.Errorf("invalid token configuration: %w", err)
	}
	slog.Info("Bearer token auth enabled", "users", provider.Len())

	config.Watch(a.viper, func(cfg config.Config, err error) {
		if err != nil {
			slog.Warn("config reload failed, keeping current tokens", "error", err)
			return
		}
		if err := provider.Replace(cfg.Server.TokenMap()); err != nil {
			slog.Warn("ignoring reloaded tokens", "error", err)
			return
		}
		slog.Info("tokens reloaded", "users", provider.Len())
	})

	opts := extensions.DefaultOptions().
		WithAuth(provider).
		WithAudit(extensions.NewSlogAuditLogger(nil))
	return &opts, nil
}

// =============================================================================
// Client Commands
// =============================================================================

// session is a client, cache and mutations for one command. The cache
// metrics live on a private registry and are logged at debug level when
// the command ends.
type session struct {
	client   *client.Client
	cache    *client.Cache
	todos    *client.Todos
	registry *prometheus.Registry
}

func (a *app) newSession(notifier client.Notifier) *session {
	c := client.New(a.cfg.Client.URL,
		client.WithToken(a.cfg.Client.Token),
		client.WithTimeout(a.cfg.Client.Timeout))
	reg := prometheus.NewRegistry()
	metrics := observability.NewCacheMetrics(reg)
	cache := client.NewCache(c.All, client.WithCacheMetrics(metrics))
	return &session{
		client:   c,
		cache:    cache,
		todos:    client.NewTodos(c, cache, notifier, client.WithMutationMetrics(metrics)),
		registry: reg,
	}
}

// logMetrics logs every cache counter as name.label=value, for example
// todo_cache_rollbacks_total.toggle=1.
func (s *session) logMetrics(ctx context.Context) {
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}
	families, err := s.registry.Gather()
	if err != nil {
		slog.Debug("failed to gather cache metrics", "error", err)
		return
	}
	var attrs []any
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "." + l.GetValue()
			}
			attrs = append(attrs, slog.Float64(key, m.GetCounter().GetValue()))
		}
	}
	slog.Debug("client cache metrics", attrs...)
}

func (a *app) runList(cmd *cobra.Command, _ []string) error {
	s := a.newSession(newTermNotifier(cmd.ErrOrStderr()))
	defer s.logMetrics(cmd.Context())
	if err := s.cache.Invalidate(cmd.Context()); err != nil {
		return fmt.Errorf("could not load todos: %w", err)
	}
	todos, _ := s.cache.GetData()
	printTodos(cmd, todos)
	return nil
}

func (a *app) runAdd(cmd *cobra.Command, args []string) error {
	s := a.newSession(newTermNotifier(cmd.ErrOrStderr()))
	defer s.logMetrics(cmd.Context())
	created, err := s.todos.Create(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("%w: %w", errReported, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s  %s\n", created.ID, created.Text)
	return nil
}

func (a *app) runToggle(cmd *cobra.Command, args []string) error {
	undone, _ := cmd.Flags().GetBool("undone")
	s := a.newSession(newTermNotifier(cmd.ErrOrStderr()))
	defer s.logMetrics(cmd.Context())
	updated, err := s.todos.Toggle(cmd.Context(), args[0], !undone)
	if err != nil {
		return fmt.Errorf("%w: %w", errReported, err)
	}
	printTodos(cmd, []datatypes.Todo{updated})
	return nil
}

func (a *app) runDelete(cmd *cobra.Command, args []string) error {
	s := a.newSession(newTermNotifier(cmd.ErrOrStderr()))
	defer s.logMetrics(cmd.Context())
	deleted, err := s.todos.Delete(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("%w: %w", errReported, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s  %s\n", deleted.ID, deleted.Text)
	return nil
}

func (a *app) runWatch(cmd *cobra.Command, _ []string) error {
	s := a.newSession(newTermNotifier(cmd.ErrOrStderr()))
	defer s.logMetrics(cmd.Context())
	if err := s.cache.Invalidate(cmd.Context()); err != nil {
		return fmt.Errorf("could not load todos: %w", err)
	}
	todos, _ := s.cache.GetData()
	printTodos(cmd, todos)

	unsubscribe := s.cache.Subscribe(func(snap client.Snapshot) {
		if snap.OK {
			fmt.Fprintln(cmd.OutOrStdout(), "---")
			printTodos(cmd, snap.Todos)
		}
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return client.Follow(ctx, s.client, s.todos, watchRetry)
}

func (a *app) runTUI(cmd *cobra.Command, _ []string) error {
	if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return errors.New("tui needs an interactive terminal")
	}
	notifier := tui.NewNotifier()
	s := a.newSession(notifier)
	defer s.logMetrics(cmd.Context())
	if err := s.client.Health(cmd.Context()); err != nil {
		return fmt.Errorf("server at %s is not reachable: %w", a.cfg.Client.URL, err)
	}

	// Logs would corrupt the alt screen; the log file, if any, still gets them.
	_ = a.logger.Close()
	quiet := a.logCfg
	quiet.Output = io.Discard
	a.logger = logging.New(quiet)
	slog.SetDefault(a.logger.Slog())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		if err := client.Follow(ctx, s.client, s.todos, watchRetry); err != nil {
			slog.Warn("live updates disabled", "error", err)
		}
	}()

	p := tea.NewProgram(tui.New(s.cache, s.todos, notifier), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (a *app) runConfigInit(cmd *cobra.Command, _ []string) error {
	path, err := a.resolveConfigPath()
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
	return nil
}

func printTodos(cmd *cobra.Command, todos []datatypes.Todo) {
	out := cmd.OutOrStdout()
	if len(todos) == 0 {
		fmt.Fprintln(out, "Nothing to do.")
		return
	}
	for _, t := range todos {
		check := "[ ]"
		if t.Done {
			check = "[x]"
		}
		fmt.Fprintf(out, "%s %s  %s\n", check, t.ID, t.Text)
	}
}
