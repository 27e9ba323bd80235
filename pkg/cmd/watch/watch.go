package watch

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/cmd/util"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/config"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/nascar"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
	natspub "github.com/mpapenbr/livetiming-gateway-go/pkg/publish/nats"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/service"
)

type watchOptions struct {
	format   string
	jsonPath string
	events   bool
}

func NewWatchCmd() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <series>",
		Short: "prints the live snapshots of a series",
		Long: `Connects to the vendor feed of the series and prints every snapshot.
If --nats-url is set the snapshots published by a running gateway are used instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := model.ParseSeries(args[0])
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout(), opts.format, opts.jsonPath)
			if err != nil {
				return err
			}
			if _, err := util.SetupLogger(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if config.NatsURL != "" {
				return watchNats(ctx, series, p, opts.events)
			}
			return watchLocal(ctx, series, p, opts.events)
		},
	}
	cmd.Flags().StringVarP(&opts.format,
		"output", "o",
		formatTable,
		"output format (json, yaml, table)")
	cmd.Flags().StringVar(&opts.jsonPath,
		"jsonpath",
		"",
		"jsonpath expression applied to json/yaml output (e.g. $.drivers[0:3].name)")
	cmd.Flags().BoolVar(&opts.events,
		"events",
		false,
		"print change events (leader, position, flag) instead of snapshots")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"read the snapshots from NATS instead of the vendor feed")
	cmd.Flags().StringVar(&config.PollInterval,
		"poll-interval",
		"3s",
		"poll interval for NASCAR and IndyCar")
	cmd.Flags().IntVar(&config.NascarSeriesID,
		"nascar-series-id",
		nascar.SeriesCup,
		"NASCAR series (1 Cup, 2 Xfinity, 3 Truck)")
	cmd.Flags().IntVar(&config.NascarRaceID,
		"nascar-race-id",
		0,
		"pin the NASCAR race (0 uses the current race of the schedule)")
	cmd.Flags().BoolVar(&config.IndycarNXT,
		"indycar-nxt",
		false,
		"poll the INDY NXT documents instead of the IndyCar ones")
	return cmd
}

//nolint:whitespace // can't make both editor and linter happy
func watchLocal(
	ctx context.Context, series model.Series, p *printer, events bool,
) error {
	sup := service.NewSupervisor(
		service.WithSeries(series),
		service.WithPollInterval(util.ParseDuration(config.PollInterval, 3*time.Second)),
		service.WithSource(util.PollingSources()...),
	)
	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer sup.Stop()
	log.Info("watching", log.String("series", string(series)))
	if events {
		ch, cancel, err := sup.SubscribeEvents(series)
		if err != nil {
			return err
		}
		defer cancel()
		return printLoop(ctx, ch, p.printEvent)
	}
	ch, cancel, err := sup.Subscribe(series)
	if err != nil {
		return err
	}
	defer cancel()
	return printLoop(ctx, ch, p.printState)
}

//nolint:whitespace // can't make both editor and linter happy
func watchNats(
	ctx context.Context, series model.Series, p *printer, events bool,
) error {
	conn, err := nats.Connect(config.NatsURL, nats.Name("livetiming-gateway-watch"))
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info("watching via nats",
		log.String("url", config.NatsURL), log.String("series", string(series)))
	if events {
		ch := make(chan model.ChangeEvent, 16)
		sub, err := natspub.SubscribeEvents(conn, series, func(ev model.ChangeEvent) {
			select {
			case ch <- ev:
			default:
			}
		})
		if err != nil {
			return err
		}
		//nolint:errcheck // connection is closed anyway
		defer sub.Unsubscribe()
		return printLoop(ctx, ch, p.printEvent)
	}
	sub, err := natspub.Subscribe(conn, series)
	if err != nil {
		return err
	}
	defer sub.Close()
	return printLoop(ctx, sub.Snapshots(), p.printState)
}

func printLoop[T any](ctx context.Context, ch <-chan T, emit func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			if err := emit(v); err != nil {
				return err
			}
		}
	}
}
