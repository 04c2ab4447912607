package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"esther/internal/api"
	"esther/internal/auth"
	"esther/internal/export"
	"esther/internal/models"
	"esther/internal/registry"
	"esther/internal/storage"
	"esther/internal/todo"
	"esther/internal/ui"
)

func newUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Open the terminal client (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runUI(cmd.Context())
		},
	}
}

func (a *app) runUI(ctx context.Context) error {
	c, err := a.client(a.cfg.Client.Token)
	if err != nil {
		return err
	}
	reg := registry.New()
	page, err := c.Bootstrap(ctx, reg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", a.cfg.Client.BaseURL, err)
	}
	ctrl := todo.NewController(c, page.UserID, a.log.WithPrefix("todo"))
	return ui.Run(ctx, ctrl, a.cfg)
}

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the todo API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.Server.Secret == "" {
		secret, err := auth.GeneratePassword()
		if err != nil {
			return err
		}
		a.cfg.Server.Secret = secret
		if err := a.save(); err != nil {
			return fmt.Errorf("save generated secret: %w", err)
		}
		a.log.Info("generated token secret", "config", a.configPath)
	}
	issuer, err := auth.NewIssuer(a.cfg.Server.Secret, time.Duration(a.cfg.Server.TokenTTLHours)*time.Hour)
	if err != nil {
		return err
	}

	store, err := storage.Open(a.cfg.DBPath, a.log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	srv := api.NewServer(store, issuer, api.Options{
		AllowAnonymous: a.cfg.Server.AllowAnonymous,
		Logger:         a.log.WithPrefix("api"),
	})
	httpServer := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", httpServer.Addr, "db", a.cfg.DBPath, "anonymous", a.cfg.Server.AllowAnonymous)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the token in the config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("TODO_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or TODO_PASSWORD) are required")
			}
			c, err := a.client("")
			if err != nil {
				return err
			}
			res, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			a.cfg.Client.Token = res.Token
			if err := a.save(); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Printf("logged in as user %d\n", res.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (default: $TODO_PASSWORD)")
	return cmd
}

func newUserAddCmd(a *app) *cobra.Command {
	var email, shortName, fullName, password string
	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Create a user in the server database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = strings.TrimSpace(email)
			if email == "" {
				return errors.New("--email is required")
			}
			generated := false
			if password == "" {
				p, err := auth.GeneratePassword()
				if err != nil {
					return err
				}
				password, generated = p, true
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			if shortName == "" {
				shortName, _, _ = strings.Cut(email, "@")
			}

			store, err := storage.Open(a.cfg.DBPath, a.log)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			u, err := store.CreateUser(cmd.Context(), models.User{
				Email:     email,
				ShortName: shortName,
				FullName:  fullName,
				Password:  hash,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created user %d (%s)\n", u.ID, u.Email)
			if generated {
				fmt.Printf("password: %s\n", password)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&shortName, "short-name", "", "display name (default: email local part)")
	cmd.Flags().StringVar(&fullName, "full-name", "", "full name")
	cmd.Flags().StringVar(&password, "password", "", "password (generated when empty)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var format, out string
	var concurrency int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump every list and its items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client(a.cfg.Client.Token)
			if err != nil {
				return err
			}
			page, err := c.Bootstrap(cmd.Context(), registry.New())
			if err != nil {
				return err
			}
			userID, _ := todo.ResolveUser(page.UserID)
			lists, err := export.Collect(cmd.Context(), c, userID, concurrency)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return export.Write(os.Stdout, lists, format)
			}
			f, err := a.fs.Create(out)
			if err != nil {
				return err
			}
			if err := export.Write(f, lists, format); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or yaml")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file")
	cmd.Flags().IntVar(&concurrency, "concurrency", export.DefaultConcurrency, "item requests in flight")
	return cmd
}
