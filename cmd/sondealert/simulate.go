package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/sonde-alert/internal/config"
	"github.com/couchcryptid/sonde-alert/internal/domain"
	"github.com/couchcryptid/sonde-alert/internal/observability"
	"github.com/couchcryptid/sonde-alert/internal/simulate"
)

type simulateOptions struct {
	url      string
	serial   string
	subtype  string
	lat, lon float64
	distance float64
	bearing  float64
	altitude float64
	descent  float64
	speed    float64
	step     time.Duration
	interval time.Duration
}

func newSimulateCmd() *cobra.Command {
	var o simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Post a synthetic sonde descent to a running service",
		Long: "simulate generates a descending sonde that drifts toward a target point and posts each frame " +
			"to the telemetry ingest endpoint. The target defaults to the location in the rules file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := domain.Point{Lat: o.lat, Lon: o.lon}
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
				rules, err := config.LoadRules(rulesPath(cmd, "config.yaml"))
				if err != nil {
					return fmt.Errorf("no --lat/--lon given and rules file unusable: %w", err)
				}
				target = rules.Location.Point()
			}

			flight := simulate.Flight{
				Serial:          o.serial,
				Type:            "RS41",
				Subtype:         o.subtype,
				Target:          target,
				StartDistanceKM: o.distance,
				BearingDeg:      o.bearing,
				StartAltitudeM:  o.altitude,
				DescentRate:     o.descent,
				GroundSpeed:     o.speed,
				Step:            o.step,
				Start:           time.Now().UTC().Truncate(time.Second),
			}
			frames, err := flight.Frames()
			if err != nil {
				return err
			}

			logger := observability.NewLogger("info", "text")
			logger.Info("simulating descent",
				"serial", o.serial,
				"frames", len(frames),
				"target_lat", target.Lat,
				"target_lon", target.Lon,
				"url", o.url,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, frames, o, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.url, "url", "http://localhost:8080/api/v1/telemetry", "telemetry ingest endpoint")
	f.StringVar(&o.serial, "serial", "SIM00001", "sonde serial")
	f.StringVar(&o.subtype, "subtype", "RS41-SGP", "sonde subtype")
	f.Float64Var(&o.lat, "lat", 0, "target latitude (default: rules file location)")
	f.Float64Var(&o.lon, "lon", 0, "target longitude (default: rules file location)")
	f.Float64Var(&o.distance, "distance", 30, "start distance from the target in km")
	f.Float64Var(&o.bearing, "bearing", 270, "bearing from the target to the start point in degrees")
	f.Float64Var(&o.altitude, "altitude", 5000, "start altitude in metres")
	f.Float64Var(&o.descent, "descent-rate", 8, "descent rate in m/s")
	f.Float64Var(&o.speed, "ground-speed", 15, "drift toward the target in m/s")
	f.DurationVar(&o.step, "step", 30*time.Second, "simulated time between frames")
	f.DurationVar(&o.interval, "interval", time.Second, "wall-clock delay between posts")
	return cmd
}

func runSimulation(ctx context.Context, frames []domain.SondeRecord, o simulateOptions, logger *slog.Logger) error {
	sent, err := simulate.Run(ctx, frames, simulate.NewSender(o.url, nil), o.interval, nil, logger)
	logger.Info("simulation finished", "sent", sent, "total", len(frames))
	return err
}
