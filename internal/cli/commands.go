package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"rolechat/internal/client"
	"rolechat/internal/core/domain"
	"rolechat/internal/core/services"
	"rolechat/pkg/config"
	"rolechat/pkg/utils"

	"github.com/spf13/cobra"
)

func newUsersCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users with their role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			api, err := opts.api(ctx)
			if err != nil {
				return err
			}
			users, err := api.Users(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), users)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tNAME\tROLES")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.Key, displayName(u), formatRoles(u.Roles))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newResourcesCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List the channel resource instances known to the authorization service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			api, err := opts.api(ctx)
			if err != nil {
				return err
			}
			instances, err := api.ResourceInstances(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), instances)
			}

			sort.Slice(instances, func(i, j int) bool { return instances[i].Key < instances[j].Key })
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REF\tTENANT\tID")
			for _, inst := range instances {
				fmt.Fprintf(w, "%s\t%s\t%s\n", inst.Ref(), inst.Tenant, inst.ID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func displayName(u *domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func formatRoles(roles []domain.RoleAssignment) string {
	if len(roles) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		if r.ResourceInstance == "" {
			parts = append(parts, string(r.Role))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s@%s", r.Role, r.ResourceInstance))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// newRoleCommand builds promote or demote. The change is announced on the
// channel so connected sessions refresh membership and their own roles.
func newRoleCommand(opts *options, action string) *cobra.Command {
	var key, channel string

	cmd := &cobra.Command{
		Use:   action,
		Short: strings.ToUpper(action[:1]) + action[1:] + " a user on a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			session, err := opts.chatSession(ctx, channel)
			if err != nil {
				return err
			}
			defer session.Close()

			run := session.PromoteUser
			if action == "demote" {
				run = session.DemoteUser
			}
			resp, err := run(ctx, key)
			if resp != nil {
				if werr := printTransition(cmd.OutOrStdout(), resp); werr != nil {
					return werr
				}
			}
			if err != nil && resp != nil {
				return fmt.Errorf("announce %s: %w", action, err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "user key")
	cmd.Flags().StringVar(&channel, "channel", domain.ChatChannel(domain.DefaultChannelKey), "channel token, <prefix>:<key>")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func printTransition(out io.Writer, resp *client.TransitionResponse) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tERROR")
	steps := make([]string, 0, len(resp.Data))
	for step := range resp.Data {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	for _, step := range steps {
		r := resp.Data[step]
		fmt.Fprintf(w, "%s\t%s\t%s\n", step, r.Status, r.Error)
	}
	for _, r := range resp.Compensations {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Step, r.Status, r.Error)
	}
	return w.Flush()
}

func newSendCommand(opts *options) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Publish a chat message as the signed-in user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			session, err := opts.chatSession(ctx, channel)
			if err != nil {
				return err
			}
			defer session.Close()

			msg, err := session.Send(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", domain.ChatChannel(domain.DefaultChannelKey), "channel to publish on")
	return cmd
}

func newDeleteCommand(opts *options) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete one of the signed-in user's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			session, err := opts.chatSession(ctx, channel)
			if err != nil {
				return err
			}
			defer session.Close()

			_, err = session.Delete(ctx, args[0])
			return err
		},
	}
	cmd.Flags().StringVar(&channel, "channel", domain.ChatChannel(domain.DefaultChannelKey), "channel the message was sent on")
	return cmd
}

func newPresenceCommand(opts *options) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "presence",
		Short: "List the clients present on a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			conn, err := opts.realtimeConn(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			members, err := conn.Presence(ctx, channel)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "connected as %s\n", conn.ClientID())
			sort.Strings(members)
			for _, m := range members {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", domain.ChatChannel(domain.DefaultChannelKey), "channel to inspect")
	return cmd
}

func newTokenCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint or inspect realtime credentials",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	var (
		clientID   string
		isMod      bool
		capability string
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a realtime credential locally from the configured API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			capab := domain.WildcardCapability()
			if !isMod {
				if capab, err = domain.DecodeCapability(capability); err != nil {
					return err
				}
			}
			token, err := services.MintToken(clientID, cfg.Realtime.APIKey, domain.RoleClaim{IsMod: isMod}, capab, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	mint.Flags().StringVar(&clientID, "client-id", "", "client identity")
	mint.Flags().BoolVar(&isMod, "mod", false, "mint a moderator credential with the wildcard capability")
	mint.Flags().StringVar(&capability, "capability",
		`{"chat:general":["subscribe","publish","presence"]}`, "capability JSON, ignored with --mod")
	_ = mint.MarkFlagRequired("client-id")

	inspect := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Decode a realtime credential without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, grant, err := services.InspectToken(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"header":     header,
				"clientId":   grant.ClientID,
				"capability": grant.Capability,
				"wildcard":   grant.Capability.IsWildcard(),
				"isMod":      grant.Claim.IsMod,
				"issuedAt":   grant.IssuedAt.UTC().Format(time.RFC3339),
				"expiresAt":  grant.ExpiresAt.UTC().Format(time.RFC3339),
				"expired":    grant.Expired(time.Now()),
				"expiresIn":  utils.FormatDuration(time.Until(grant.ExpiresAt).Round(time.Second)),
			})
		},
	}

	cmd.AddCommand(mint, inspect)
	return cmd
}

func newWatchCommand(opts *options) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a channel's reconciled timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			startCtx, cancel := context.WithTimeout(ctx, opts.timeout)
			defer cancel()

			session, err := opts.chatSession(startCtx, channel)
			if err != nil {
				return err
			}
			defer session.Close()

			out := cmd.OutOrStdout()
			printed := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-session.Updates():
					if err := session.Err(); err != nil {
						return err
					}
					tl := session.Timeline()
					if len(tl) < printed {
						fmt.Fprintln(out, "--- timeline changed ---")
						printed = 0
					}
					for _, m := range tl[printed:] {
						fmt.Fprintln(out, formatMessage(m))
					}
					printed = len(tl)
				}
			}
		},
	}
	cmd.Flags().StringVar(&channel, "channel", domain.ChatChannel(domain.DefaultChannelKey), "channel to watch")
	return cmd
}

const maxPrintedText = 200

func formatMessage(m *domain.Message) string {
	ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
	text := ""
	if m.Data != nil {
		text = m.Data.Text
	}
	text = utils.TruncateString(text, maxPrintedText)
	if m.Name == domain.MessageAdd {
		return fmt.Sprintf("[%s] %s: %s", ts, m.ClientID, text)
	}
	return fmt.Sprintf("[%s] * %s", ts, text)
}
