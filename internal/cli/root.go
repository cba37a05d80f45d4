// Package cli implements rolectl, the admin and debugging client for a
// rolechat server.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"rolechat/internal/client"
	"rolechat/internal/core/domain"
	"rolechat/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNoCredential = errors.New("no realtime credential issued; sign in with --email or --session")

type options struct {
	server      string
	realtimeURL string
	session     string
	email       string
	cookie      string
	configPath  string
	logLevel    string
	timeout     time.Duration
}

// NewRootCommand builds the rolectl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "rolectl",
		Short:         "Inspect and administer a rolechat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error loading .env file, skipping")
			}
			opts.applyEnv(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "rolechat HTTP API base URL (ROLECHAT_SERVER_URL)")
	flags.StringVar(&opts.realtimeURL, "realtime-url", "", "realtime websocket URL (ROLECHAT_REALTIME_URL); derived from --server when empty")
	flags.StringVar(&opts.session, "session", "", "session token (ROLECHAT_SESSION)")
	flags.StringVar(&opts.email, "email", "", "sign in with the development endpoint as this user (ROLECHAT_EMAIL)")
	flags.StringVar(&opts.cookie, "cookie", client.DefaultSessionCookie, "session cookie name")
	flags.StringVar(&opts.configPath, "config", "configs/config.yaml", "server config, used for local token minting")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")

	root.AddCommand(
		newUsersCommand(opts),
		newResourcesCommand(opts),
		newRoleCommand(opts, "promote"),
		newRoleCommand(opts, "demote"),
		newSendCommand(opts),
		newDeleteCommand(opts),
		newPresenceCommand(opts),
		newTokenCommand(opts),
		newWatchCommand(opts),
	)
	return root
}

// Execute runs rolectl and exits non-zero on failure.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// applyEnv fills flags the user did not set from the environment.
func (o *options) applyEnv(cmd *cobra.Command) {
	for _, b := range []struct {
		flag, env string
		dst       *string
	}{
		{"server", "ROLECHAT_SERVER_URL", &o.server},
		{"realtime-url", "ROLECHAT_REALTIME_URL", &o.realtimeURL},
		{"session", "ROLECHAT_SESSION", &o.session},
		{"email", "ROLECHAT_EMAIL", &o.email},
	} {
		if cmd.Flags().Changed(b.flag) {
			continue
		}
		if v := os.Getenv(b.env); v != "" {
			*b.dst = v
		}
	}
}

func (o *options) logger() *zap.SugaredLogger {
	return logger.New(o.logLevel).Sugar()
}

// api returns a client carrying a session, signing in first when only an
// email was given.
func (o *options) api(ctx context.Context) (*client.APIClient, error) {
	api := client.NewAPIClient(o.server)
	api.SetCookieName(o.cookie)
	if o.session != "" {
		api.SetSession(o.session)
		return api, nil
	}
	if o.email != "" {
		if _, err := api.SignIn(ctx, o.email, "", ""); err != nil {
			return nil, fmt.Errorf("sign in as %s: %w", o.email, err)
		}
	}
	return api, nil
}

// chatSession starts a chat session on channel for the signed-in user.
func (o *options) chatSession(ctx context.Context, channel string) (*client.ChatSession, error) {
	api, err := o.api(ctx)
	if err != nil {
		return nil, err
	}

	session := client.NewChatSession(client.SessionConfig{
		API:         api,
		RealtimeURL: o.realtimeEndpoint(),
		Channel:     channel,
		Logger:      o.logger(),
	})
	if err := session.Start(ctx); err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			return nil, errNoCredential
		}
		return nil, err
	}
	return session, nil
}

// realtimeConn dials the gateway with the signed-in user's credential.
func (o *options) realtimeConn(ctx context.Context) (*client.RealtimeConn, error) {
	api, err := o.api(ctx)
	if err != nil {
		return nil, err
	}
	token, err := api.RealtimeToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch realtime token: %w", err)
	}
	if token == "" {
		return nil, errNoCredential
	}
	return client.DialRealtime(ctx, o.realtimeEndpoint(), token)
}

func (o *options) realtimeEndpoint() string {
	if o.realtimeURL != "" {
		return o.realtimeURL
	}
	base := strings.TrimRight(o.server, "/")
	if rest, ok := strings.CutPrefix(base, "https"); ok {
		return "wss" + rest + "/realtime"
	}
	if rest, ok := strings.CutPrefix(base, "http"); ok {
		return "ws" + rest + "/realtime"
	}
	return base + "/realtime"
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
