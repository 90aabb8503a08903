package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tick-analytics/config"
	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
	redisstore "tick-analytics/internal/store/redis"
	"tick-analytics/internal/store/sqldb"
)

func newProfilesCmd(cfg *config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "profiles <security-id>",
		Short: "Show stored daily market profiles, newest first",
		Example: `  analyticsd profiles 99926000
  analyticsd profiles 99926000 --limit 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			store, err := sqldb.New(ctx, cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			profiles := store.Profiles.GetProfiles(args[0])
			if len(profiles) == 0 {
				return fmt.Errorf("no profiles stored for %s", args[0])
			}
			if limit > 0 && len(profiles) > limit {
				profiles = profiles[:limit]
			}
			renderProfiles(cmd.OutOrStdout(), args[0], profiles)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many sessions (0 = all)")
	return cmd
}

func renderProfiles(w io.Writer, id string, profiles []model.MarketProfileData) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Market profiles " + id)
	t.AppendHeader(table.Row{"Date", "POC", "VAH", "VAL", "VPOC", "Value area"})
	for _, p := range profiles {
		t.AppendRow(table.Row{
			p.Date.In(markethours.IST).Format("2006-01-02"),
			fmt.Sprintf("%.2f", p.TPO.POC),
			fmt.Sprintf("%.2f", p.TPO.VAH),
			fmt.Sprintf("%.2f", p.TPO.VAL),
			fmt.Sprintf("%.2f", p.Volume.VPOC),
			fmt.Sprintf("%.2f", p.TPO.VAH-p.TPO.VAL),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	t.Render()
}

func newIVCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "iv <bucket>",
		Short:   "Show the 90-day implied volatility range of a bucket",
		Example: `  analyticsd iv NIFTY_ATM+1_CE`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			store, err := sqldb.New(ctx, cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			key := strings.ToUpper(args[0])
			days := store.IV.Days(key)
			if len(days) == 0 {
				return fmt.Errorf("no IV history for %s", key)
			}
			hi, lo := store.IV.Get90DayRange(key)
			renderIV(cmd.OutOrStdout(), key, days, hi, lo)
			return nil
		},
	}
	return cmd
}

func renderIV(w io.Writer, key string, days []sqldb.IVDay, hi, lo float64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("IV " + key)
	t.AppendHeader(table.Row{"Date", "High", "Low"})
	for _, d := range days {
		t.AppendRow(table.Row{d.Date, fmt.Sprintf("%.2f", d.High), fmt.Sprintf("%.2f", d.Low)})
	}
	t.AppendFooter(table.Row{"90d range", fmt.Sprintf("%.2f", hi), fmt.Sprintf("%.2f", lo)})
	t.Render()
}

func newLatestCmd(cfg *config.Config) *cobra.Command {
	var (
		follow  bool
		history int64
	)
	cmd := &cobra.Command{
		Use:   "latest <security-id>",
		Short: "Show the latest analysis result from Redis",
		Example: `  analyticsd latest 99926000
  analyticsd latest 99926000 --follow
  analyticsd latest 99926000 --history 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.RedisAddr == "" {
				return fmt.Errorf("REDIS_ADDR is not set")
			}
			reader, err := redisstore.NewReader(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			if err != nil {
				return err
			}
			defer reader.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			id := args[0]

			if history > 0 {
				results, err := reader.History(ctx, id, history)
				if err != nil {
					return err
				}
				renderResults(out, results)
				return nil
			}

			r, err := reader.Latest(ctx, id)
			if err != nil {
				return err
			}
			renderResult(out, r)
			if !follow {
				return nil
			}

			ch := make(chan model.AnalysisResult, 64)
			errCh := make(chan error, 1)
			go func() { errCh <- reader.SubscribeResults(ctx, id, ch) }()
			for {
				select {
				case r := <-ch:
					renderResult(out, r)
				case err := <-errCh:
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing results as they are published")
	cmd.Flags().Int64Var(&history, "history", 0, "print the last N results from the stream instead")
	return cmd
}

func renderResult(w io.Writer, r model.AnalysisResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s (%s) @ %s", r.Symbol, r.SecurityID, r.TS.In(markethours.IST).Format("15:04:05")))
	rows := []table.Row{
		{"LTP", fmt.Sprintf("%.2f", r.LTP)},
		{"VWAP", fmt.Sprintf("%.2f", r.Vwap)},
		{"Volume", r.VolumeSignal},
		{"OI", r.OiSignal},
		{"EMA 1m / 5m / 15m", r.EmaSignal1Min + " / " + r.EmaSignal5Min + " / " + r.EmaSignal15Min},
		{"RSI 1m", fmt.Sprintf("%.1f %s", r.RsiValue1Min, r.RsiSignal1Min)},
		{"IV", fmt.Sprintf("%.2f %s", r.CurrentIv, r.IvSignal)},
		{"Developing POC / VAH / VAL", fmt.Sprintf("%.2f / %.2f / %.2f", r.DevelopingPoc, r.DevelopingVah, r.DevelopingVal)},
		{"Initial balance", r.InitialBalanceSignal},
		{"Signal", r.FinalTradeSignal},
		{"Conviction", r.ConvictionScore},
	}
	t.AppendRows(rows)
	t.Render()
}

func renderResults(w io.Writer, results []model.AnalysisResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "LTP", "VWAP", "Signal", "Conviction"})
	for _, r := range results {
		t.AppendRow(table.Row{
			r.TS.In(markethours.IST).Format("15:04:05"),
			fmt.Sprintf("%.2f", r.LTP),
			fmt.Sprintf("%.2f", r.Vwap),
			r.FinalTradeSignal,
			r.ConvictionScore,
		})
	}
	t.Render()
}
