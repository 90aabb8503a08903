package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tick-analytics/config"
	"tick-analytics/internal/marketdata/wssim"
)

func newSimulateCmd(cfg *config.Config) *cobra.Command {
	var (
		addr     string
		interval time.Duration
		seed     int64
		base     []string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve random-walk JSON ticks for the configured instruments",
		Long: `Starts a WebSocket server at /ticks that broadcasts simulated ticks for
every instrument in the settings file. Point "serve --feed-url" at it to
exercise the pipeline without SmartAPI credentials.`,
		Example: `  analyticsd simulate --addr :9001 --interval 250ms
  analyticsd simulate --base 99926000=24350 --base 2885=2900`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(cfg.SettingsPath)
			if err != nil {
				return err
			}
			if len(settings.Instruments) == 0 {
				return fmt.Errorf("simulate: no instruments configured in %s", cfg.SettingsPath)
			}
			prices, err := parseBasePrices(base)
			if err != nil {
				return err
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := wssim.NewServer(wssim.NewGenerator(settings.Instruments, prices, seed))
			mux := http.NewServeMux()
			mux.Handle("/ticks", srv)
			mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprintf(w, `{"status":"ok","clients":%d}`, srv.Clients())
			})
			httpSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			go srv.Run(ctx, interval)
			go func() {
				<-ctx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutCtx)
			}()

			log.Printf("[simulate] %d instruments every %v on ws://localhost%s/ticks",
				len(settings.Instruments), interval, addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9001", "listen address")
	cmd.Flags().DurationVar(&interval, "interval", 250*time.Millisecond, "time between tick rounds")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = time based)")
	cmd.Flags().StringArrayVar(&base, "base", nil, "starting price as security_id=price (repeatable)")
	return cmd
}

func parseBasePrices(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		id, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid --base %q, want security_id=price", p)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid --base price in %q", p)
		}
		out[strings.TrimSpace(id)] = f
	}
	return out, nil
}
