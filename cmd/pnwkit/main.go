// Package main is the pnwkit command line client.
//
// Usage:
//
//	pnwkit [-config path] query -field nations -arg first=5 -select "id nation_name"
//	pnwkit [-config path] paginate -field nations -arg first=50 -batch 4 -select "id"
//	pnwkit [-config path] subscribe -model nation -event update -filter id=1,2
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	pnwkit "github.com/llehouerou/pnwkit-go"
	"github.com/llehouerou/pnwkit-go/pkg/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "pnwkit:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("pnwkit", flag.ContinueOnError)
	configPath := global.String("config", "", "path to a YAML config file")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errors.New("missing command: query, paginate or subscribe")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	client := pnwkit.NewClientFromConfig(cfg, nil).WithLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "query":
		return runQuery(ctx, client, rest)
	case "paginate":
		return runPaginate(ctx, client, rest)
	case "subscribe":
		defer func() { _ = client.Close(context.Background()) }()
		return runSubscribe(ctx, client, logger, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// fieldFlags are shared by query and paginate.
type fieldFlags struct {
	field     string
	selection string
	args      pnwkit.Args
}

func (f *fieldFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.field, "field", "", "root field to query")
	fs.StringVar(&f.selection, "select", "id", "sub-selection, e.g. \"id nation_name\"")
	fs.Func("arg", "field argument name=value, repeatable", func(s string) error {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid argument %q", s)
		}
		f.args = f.args.With(name, parseValue(value))
		return nil
	})
}

// parseValue reads ints, floats and booleans as such; a comma makes a list.
func parseValue(s string) any {
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = parseValue(p)
		}
		return out
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func runQuery(ctx context.Context, client *pnwkit.Client, args []string) error {
	var ff fieldFlags
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	ff.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if ff.field == "" {
		return errors.New("query: -field is required")
	}

	res, err := client.Query(ff.field, ff.args, ff.selection).Get(ctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runPaginate(ctx context.Context, client *pnwkit.Client, args []string) error {
	var ff fieldFlags
	fs := flag.NewFlagSet("paginate", flag.ContinueOnError)
	ff.register(fs)
	batch := fs.Int("batch", 1, "pages fetched concurrently")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if ff.field == "" {
		return errors.New("paginate: -field is required")
	}

	p, err := client.Query(ff.field, ff.args, ff.selection).PaginateAsync(ff.field)
	if err != nil {
		return err
	}
	if p, err = p.Batch(*batch); err != nil {
		return err
	}
	for rec, err := range p.All(ctx) {
		if err != nil {
			return err
		}
		if err := printJSON(rec); err != nil {
			return err
		}
	}
	return nil
}

func runSubscribe(ctx context.Context, client *pnwkit.Client, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("subscribe", flag.ContinueOnError)
	model := fs.String("model", "", "model to subscribe to, e.g. nation")
	event := fs.String("event", "", "event to subscribe to, e.g. update")
	filters := pnwkit.Filters{}
	fs.Func("filter", "filter name=v1,v2, repeatable", func(s string) error {
		name, values, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid filter %q", s)
		}
		for _, v := range strings.Split(values, ",") {
			filters[name] = append(filters[name], parseValue(v))
		}
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" || *event == "" {
		return errors.New("subscribe: -model and -event are required")
	}

	sub, err := client.Subscribe(ctx, *model, *event, filters)
	if err != nil {
		return err
	}
	logger.Info("subscribed", slog.String("channel", sub.Channel()))
	for rec, err := range sub.All(ctx) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := printJSON(rec); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}
