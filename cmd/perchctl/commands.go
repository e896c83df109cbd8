package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/go-core/log"

	pc "github.com/linnemanlabs/perch/internal/cfg"
	"github.com/linnemanlabs/perch/internal/relay"
	"github.com/linnemanlabs/perch/internal/routing"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "perchctl",
		Short:         "Inspect perch relay configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "file", "f", "", "Relay config YAML (built-in default when empty)")

	cmd.AddCommand(
		newCheckCmd(&configPath),
		newRenderCmd(&configPath),
		newFanoutCmd(&configPath),
	)
	return cmd
}

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate a relay config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rf, err := pc.LoadRelayFile(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "primary: incident=%s review=%s push=%s\n",
				rf.Primary.Incident, rf.Primary.Review, rf.Primary.Push)
			fmt.Fprintf(out, "channels (%d):\n", len(rf.Channels))
			for _, c := range rf.Channels {
				fmt.Fprintf(out, "  %s %s high=%s medium=%s low=%s\n",
					c.Channel, c.Audience, c.High, c.Medium, c.Low)
			}
			fmt.Fprintf(out, "repositories=%d users=%d services=%d\n",
				len(rf.Repositories), len(rf.Users), len(rf.Services))
			fmt.Fprintln(out, "OK")
			return nil
		},
	}
}

type renderOptions struct {
	Channel string
	Urgency string
	Weekday bool
	Ping    bool
	Number  int
	Summary string
	URL     string
	Service string
}

func newRenderCmd(configPath *string) *cobra.Command {
	opts := renderOptions{Urgency: string(relay.UrgencyHigh), Weekday: true, Ping: true}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the incident message a channel would receive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rf, err := pc.LoadRelayFile(*configPath)
			if err != nil {
				return err
			}
			policies, err := rf.Policies()
			if err != nil {
				return err
			}
			renderer, err := rf.Renderer()
			if err != nil {
				return err
			}

			channel := opts.Channel
			if channel == "" {
				channel = rf.Primary.Incident
			}
			p, err := policies.Lookup(channel)
			if err != nil {
				return err
			}

			inc := &relay.Incident{
				Urgency: relay.Urgency(opts.Urgency),
				Summary: opts.Summary,
				URL:     opts.URL,
				Number:  opts.Number,
				Service: opts.Service,
			}
			action := relay.DecideAction(inc.Urgency, opts.Weekday, opts.Ping, p)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "channel: %s\naction: %s\n\n", channel, action)
			fmt.Fprintln(out, renderer.Render(action, p.Audience, inc))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "Target channel (incident primary when empty)")
	cmd.Flags().StringVar(&opts.Urgency, "urgency", opts.Urgency, "Incident urgency")
	cmd.Flags().BoolVar(&opts.Weekday, "weekday", opts.Weekday, "Treat the incident as arriving on a weekday")
	cmd.Flags().BoolVar(&opts.Ping, "ping", opts.Ping, "Treat the incident as outside the paging cooldown")
	cmd.Flags().IntVar(&opts.Number, "number", 1, "Incident number")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "Incident summary")
	cmd.Flags().StringVar(&opts.URL, "url", "", "Incident URL")
	cmd.Flags().StringVar(&opts.Service, "service", "", "Incident service name")
	return cmd
}

func newFanoutCmd(configPath *string) *cobra.Command {
	var primary, repo, user string

	cmd := &cobra.Command{
		Use:   "fanout",
		Short: "Print the channels a review or push would reach",
		Long: `Fanout combines the primary channel with the channels configured for a
repository and a user. Callsigns are not resolved, so revisions that only
route by callsign are not shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rf, err := pc.LoadRelayFile(*configPath)
			if err != nil {
				return err
			}
			table, err := routing.Build(context.Background(), rf.RoutingConfig(), nil, log.Nop())
			if err != nil {
				return err
			}
			if primary == "" {
				primary = rf.Primary.Review
			}
			channels := routing.Fanout(primary, table.ByRepository(repo), table.ByUser(user))
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(channels, " "))
			return nil
		},
	}

	cmd.Flags().StringVar(&primary, "primary", "", "Primary channel (review primary when empty)")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository name")
	cmd.Flags().StringVar(&user, "user", "", "User identity")
	return cmd
}
