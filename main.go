package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/drewfead/gcalauth/internal/auth"
	"github.com/drewfead/gcalauth/internal/config"
	"github.com/urfave/cli/v3"
)

const envPrefix = "GCALAUTH_"

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + name)
}

func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a YAML or TOML config file",
			Sources: env("CONFIG"),
		},
		&cli.StringFlag{
			Name:    "credentials",
			Usage:   "path to the OAuth client secrets file (default \"credentials.json\")",
			Sources: env("CREDENTIALS"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "path the user token is written to (default \"user_token.json\")",
			Sources: env("TOKEN"),
		},
		&cli.StringFlag{
			Name:    "redirect-uri",
			Usage:   "loopback redirect URI for the consent callback (default \"" + auth.DefaultRedirectURI + "\")",
			Sources: env("REDIRECT_URI"),
		},
		&cli.BoolFlag{
			Name:    "no-browser",
			Usage:   "print the consent URL instead of opening a browser",
			Sources: env("NO_BROWSER"),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "give up waiting for consent after this long (0 waits forever)",
			Sources: env("TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "verify",
			Usage:   "fetch the primary calendar with the new token after login",
			Sources: env("VERIFY"),
		},
		&cli.StringFlag{
			Name:    "api-endpoint",
			Usage:   "override the Calendar API endpoint",
			Sources: env("API_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Sources: env("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			Sources: env("LOG_FORMAT"),
		},
	}
}

// loadConfig layers flags and environment over the config file.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("credentials") {
		cfg.CredentialsPath = cmd.String("credentials")
	}
	if cmd.IsSet("token") {
		cfg.TokenPath = cmd.String("token")
	}
	if cmd.IsSet("redirect-uri") {
		cfg.RedirectURI = cmd.String("redirect-uri")
	}
	if cmd.IsSet("no-browser") {
		cfg.NoBrowser = cmd.Bool("no-browser")
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("verify") {
		cfg.Verify = cmd.Bool("verify")
	}
	if cmd.IsSet("api-endpoint") {
		cfg.APIEndpoint = cmd.String("api-endpoint")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}

	return cfg, nil
}

// stdout and stderr resolve the root command's writers so tests can capture output.
func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func setupLogger(w io.Writer, cfg *config.Config) error {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q (want debug, info, warn or error): %w", cfg.LogLevel, err)
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", cfg.LogFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// withConfig resolves the layered config and sets up logging before running fn.
func withConfig(fn func(context.Context, *cli.Command, *config.Config) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := setupLogger(stderr(cmd), cfg); err != nil {
			return err
		}
		if cfg.Source != "" {
			slog.Debug("loaded config file", "path", cfg.Source)
		}
		return fn(ctx, cmd, cfg)
	}
}

// printConsentURL stands in for the browser when --no-browser is set.
func printConsentURL(w io.Writer) func(string) error {
	return func(url string) error {
		_, err := fmt.Fprintf(w, "Open this URL in a browser to authorize calendar access:\n\n  %s\n\n", url)
		return err
	}
}

func runLogin(ctx context.Context, cmd *cli.Command, cfg *config.Config, opts ...auth.Option) error {
	if cfg.NoBrowser {
		opts = append(opts, auth.WithBrowser(printConsentURL(stderr(cmd))))
	}

	tok, err := login(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout(cmd), "Saved token for %s to %s\n", strings.Join(tok.Scopes, " "), cfg.TokenPath)

	if cfg.Verify {
		return verify(ctx, cfg, opts...)
	}
	return nil
}

// newRootCommand builds the CLI. opts are passed to every auth.Manager it creates.
func newRootCommand(opts ...auth.Option) *cli.Command {
	loginAction := withConfig(func(ctx context.Context, cmd *cli.Command, cfg *config.Config) error {
		return runLogin(ctx, cmd, cfg, opts...)
	})

	return &cli.Command{
		Name:   "gcalauth",
		Usage:  "authorize Google Calendar access and save the user token",
		Flags:  rootFlags(),
		Action: loginAction,
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "run the browser consent flow and write the token file (default)",
				Action: loginAction,
			},
			{
				Name:   "verify",
				Usage:  "check the saved token by fetching the primary calendar",
				Action: withConfig(func(ctx context.Context, _ *cli.Command, cfg *config.Config) error {
					return verify(ctx, cfg, opts...)
				}),
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
