package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/ptgott/smtpmix/deliver"
	"github.com/ptgott/smtpmix/mixin"
	"github.com/ptgott/smtpmix/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}

// readBody returns the contents of path, or of stdin if path is "-". It gives
// up when ctx is done, e.g., on an interrupt while waiting on a terminal.
func readBody(ctx context.Context, path string, stdin io.Reader) (string, error) {
	if path == "" {
		return "", nil
	}
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}

	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := io.ReadAll(r)
		ch <- result{b, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return string(res.b), res.err
	}
}

func printParameters(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tDESCRIPTION")
	for _, p := range mixin.Parameters {
		fmt.Fprintf(tw, "%v\t%v\t%v\n", p.Name, p.Type, p.Description)
	}
	tw.Flush()
}

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	// An interrupt cancels ctx, which aborts a stdin read or the open SMTP
	// session. A second interrupt gets the default behavior and exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("interrupt: stopping")
		stop()
	}()

	configPath := flag.String(
		"config",
		"./config.yaml",
		"path to a JSON or YAML file containing your configuration",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	listParams := flag.Bool(
		"params",
		false,
		"print the SMTP connection parameters and exit",
	)
	var params stringList
	flag.Var(
		&params,
		"param",
		"set an SMTP connection parameter as name=value, overriding the config (repeatable)",
	)
	check := flag.Bool(
		"check",
		false,
		"connect to the SMTP server, then disconnect without sending anything",
	)
	subject := flag.String("subject", "", "message subject, overriding the config")
	var to stringList
	flag.Var(&to, "to", "recipient address, overriding the config (repeatable or comma-separated)")
	bodyPath := flag.String("body", "", `path to the plain text body, or "-" for stdin`)
	htmlPath := flag.String("html", "", `path to an HTML body, or "-" for stdin`)
	messageID := flag.String("message-id", "", "Message-ID to send with, which the journal tracks")
	force := flag.Bool(
		"force",
		false,
		"send even if the journal already has the message ID",
	)
	noEmail := flag.Bool(
		"noemail",
		false,
		"print the message to stdout instead of sending it",
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if *listParams {
		printParameters(os.Stdout)
		return
	}

	if *bodyPath == "-" && *htmlPath == "-" {
		log.Error().Msg("only one of -body and -html can read from stdin")
		os.Exit(1)
	}

	log.Info().
		Str("configPath", *configPath).
		Msg("starting the application")

	f, err := os.Open(*configPath)

	if err != nil {
		log.Error().
			Str("config-path", *configPath).
			Err(err).
			Msg("We can't open the application config file")
		os.Exit(1)
	}

	config, err := userconfig.Parse(f)
	f.Close()

	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem parsing your config")
		os.Exit(1)
	}

	for _, p := range params {
		if err := config.SMTP.Params.SetPair(p); err != nil {
			log.Error().
				Err(err).
				Msg("Problem with a -param flag")
			os.Exit(1)
		}
	}

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem validating your config")
		os.Exit(1)
	}

	log.Info().Str("configPath", *configPath).Msg("successfully validated the config")

	if *check {
		if err := deliver.Check(ctx, &checkedConfig); err != nil {
			log.Error().Err(err).Msg("the SMTP server check failed")
			os.Exit(1)
		}
		log.Info().Msg("the SMTP server check succeeded")
		return
	}

	body, err := readBody(ctx, *bodyPath, os.Stdin)
	if err != nil {
		log.Error().Err(err).Msg("can't read the message body")
		os.Exit(1)
	}
	markup, err := readBody(ctx, *htmlPath, os.Stdin)
	if err != nil {
		log.Error().Err(err).Msg("can't read the HTML body")
		os.Exit(1)
	}

	res, err := deliver.Run(ctx, &deliver.Config{
		OutputWr: os.Stdout,
		DryRun:   *noEmail,
		Force:    *force,
	}, &checkedConfig, deliver.Request{
		To:        to,
		Subject:   *subject,
		Body:      body,
		HTML:      markup,
		MessageID: *messageID,
	})
	if err != nil {
		log.Error().Err(err).Msg("error sending an email")
		os.Exit(1)
	}

	log.Info().
		Str("messageID", res.MessageID).
		Bool("sent", res.Sent).
		Msg("done")
}
