package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/sonde-alert/internal/config"
	"github.com/couchcryptid/sonde-alert/internal/notify"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate environment settings and the rules file",
		Long:  "check-config loads the environment configuration and the rules file, builds every notifier without sending anything, and prints a summary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.ConfigFile = rulesPath(cmd, cfg.ConfigFile)

			rules, err := config.LoadRules(cfg.ConfigFile)
			if err != nil {
				return err
			}

			notifiers, err := notify.NewNotifiers(rules.NotificationURLs, nil)
			if err != nil {
				return fmt.Errorf("build notifiers: %w", err)
			}
			defer func() {
				for _, n := range notifiers {
					_ = n.Close()
				}
			}()

			printSummary(cmd.OutOrStdout(), cfg, rules, notifiers)
			return nil
		},
	}
}

func printSummary(w io.Writer, cfg *config.Config, rules *config.Rules, notifiers []notify.Notifier) {
	fmt.Fprintf(w, "rules file:  %s\n", cfg.ConfigFile)
	fmt.Fprintf(w, "location:    %s (%.5f, %.5f)\n", rules.Location.Name, rules.Location.Lat, rules.Location.Lon)

	switch cfg.Source {
	case config.SourceSondeHub:
		fmt.Fprintf(w, "source:      sondehub %s, radius %.1f km, every %s\n",
			cfg.SondeHubURL, rules.QueryRadiusKM(cfg.SondeHubRadiusKM), rules.CheckInterval)
	case config.SourceKafka:
		fmt.Fprintf(w, "source:      kafka topic %s on %v\n", cfg.KafkaTopic, cfg.KafkaBrokers)
	default:
		fmt.Fprintf(w, "source:      http push on %s/api/v1/telemetry\n", cfg.HTTPAddr)
	}

	fmt.Fprintf(w, "criteria:    %d (%d enabled)\n", len(rules.Criteria), len(rules.EnabledCriteria()))
	for _, c := range rules.Criteria {
		state := "enabled"
		if !c.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "  - %s [%s] %s\n", c.Name, state, c.Describe())
	}

	fmt.Fprintf(w, "notifiers:   %d\n", len(notifiers))
	for _, n := range notifiers {
		fmt.Fprintf(w, "  - %s\n", n.Name())
	}
	fmt.Fprintln(w, "configuration OK")
}
