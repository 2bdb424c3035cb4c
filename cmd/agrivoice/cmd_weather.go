package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agrivoice/internal/domain"
	"agrivoice/internal/providers/openmeteo"
	"agrivoice/internal/risk"
)

func newWeatherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weather",
		Short: "Show outdoor weather and tomorrow's forecast for the configured farm",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client := openmeteo.New(openmeteo.Config{
				Latitude:  cfg.Weather.Latitude,
				Longitude: cfg.Weather.Longitude,
				Timezone:  cfg.Weather.Timezone,
			})

			var current domain.OutdoorWeather
			var tomorrow domain.Forecast
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() (err error) {
				current, err = client.Current(ctx)
				return err
			})
			g.Go(func() (err error) {
				tomorrow, err = client.Tomorrow(ctx)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Now:      %s %.1f°C\n", current.Description, current.Temperature)
			fmt.Fprintf(out, "Tomorrow: %s %.0f/%.0f°C\n", tomorrow.Description, tomorrow.MaxTemp, tomorrow.MinTemp)
			if care := risk.WeatherCare(current.Temperature); care != "" {
				fmt.Fprintln(out, care)
			}
			if hint := risk.TomorrowHint(tomorrow); hint != "" {
				fmt.Fprintln(out, hint)
			}
			return nil
		},
	}
}
