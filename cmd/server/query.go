package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/threatboard/internal/dashboard"
)

type viewRunner func(ctx context.Context, s *dashboard.Service) (any, error)

func runView[T any](fn func(*dashboard.Service, context.Context) (T, error)) viewRunner {
	return func(ctx context.Context, s *dashboard.Service) (any, error) {
		return fn(s, ctx)
	}
}

var queryViews = map[string]viewRunner{
	dashboard.ViewCategoryBreakdown:   runView((*dashboard.Service).CategoryBreakdown),
	dashboard.ViewHourlyBreakdown:     runView((*dashboard.Service).HourlyBreakdown),
	dashboard.ViewDailyBreakdown:      runView((*dashboard.Service).DailyBreakdown),
	dashboard.ViewGeographicBreakdown: runView((*dashboard.Service).GeographicBreakdown),
	dashboard.ViewLast7DaysTrend:      runView((*dashboard.Service).Last7DaysTrend),
	dashboard.ViewTopSourceIPs:        runView((*dashboard.Service).TopSourceIPs),
	dashboard.ViewKPIs:                runView((*dashboard.Service).KPIs),
	dashboard.ViewLast24hHourly:       runView((*dashboard.Service).Last24hHourly),
	dashboard.ViewAttackTypeBreakdown: runView((*dashboard.Service).AttackTypeBreakdown),
}

func viewNames() []string {
	names := make([]string, 0, len(queryViews))
	for name := range queryViews {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "query <view>",
		Short:     "Run one dashboard view and print it as JSON",
		Long:      fmt.Sprintf("Run one dashboard view against the configured store and print the result.\n\nViews: %v", viewNames()),
		Args:      cobra.ExactArgs(1),
		ValidArgs: viewNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, ok := queryViews[args[0]]
			if !ok {
				return fmt.Errorf("unknown view %q (want one of %v)", args[0], viewNames())
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			result, err := run(ctx, a.service)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
