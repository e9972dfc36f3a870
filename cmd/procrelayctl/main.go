package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/guseggert/procrelay/agent"
	"github.com/guseggert/procrelay/agent/gateway"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

func main() {
	app := &cli.App{
		Name:  "procrelayctl",
		Usage: "control a procrelay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "The address of the procrelay server.",
				Value: agent.DefaultListenAddr,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "show the status of every slot",
				Action: status,
			},
			{
				Name:      "start",
				Usage:     "start the process in a slot",
				ArgsUsage: "<slot>",
				Action: slotCommand(func(ctx context.Context, c *agent.Client, slot string) error {
					return c.Start(ctx, slot)
				}),
			},
			{
				Name:      "stop",
				Usage:     "stop the process in a slot",
				ArgsUsage: "<slot>",
				Action: slotCommand(func(ctx context.Context, c *agent.Client, slot string) error {
					return c.Stop(ctx, slot)
				}),
			},
			{
				Name:      "send",
				Usage:     "send a line to the stdin of the process in a slot",
				ArgsUsage: "<slot> <text...>",
				Action:    send,
			},
			{
				Name:      "attach",
				Usage:     "stream events from slots to the terminal, and send lines read from stdin to the first slot",
				ArgsUsage: "[slots...]",
				Action:    attach,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(c *cli.Context) (*agent.Client, error) {
	level := zapcore.WarnLevel
	if c.Bool("debug") {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return agent.NewClient(logger.Sugar(), c.String("addr")), nil
}

func status(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	statuses, err := client.Slots(c.Context)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tSTATE\tPID\tINSTALLED\tCOMMAND")
	for _, s := range statuses {
		pid := "-"
		if s.PID != 0 {
			pid = fmt.Sprint(s.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", s.Slot, s.State, pid, s.Installed, strings.Join(append([]string{s.Command}, s.Args...), " "))
	}
	return w.Flush()
}

func slotCommand(f func(ctx context.Context, c *agent.Client, slot string) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("expected exactly one slot, got %d args", c.NArg())
		}
		client, err := newClient(c)
		if err != nil {
			return err
		}
		return f(c.Context, client, c.Args().First())
	}
}

func send(c *cli.Context) error {
	if c.NArg() < 2 {
		return errors.New("expected a slot and text")
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	return client.Input(c.Context, c.Args().First(), strings.Join(c.Args().Tail(), " "))
}

func attach(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slots := c.Args().Slice()
	conn, err := client.Connect(ctx, slots...)
	if err != nil {
		return err
	}
	defer conn.Close()

	// an empty slot addresses the server's default
	inputSlot := c.Args().First()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		for {
			msg, err := conn.Next(groupCtx)
			if err != nil {
				if websocket.CloseStatus(err) != -1 || groupCtx.Err() != nil {
					return nil
				}
				return err
			}
			printMessage(c.App.Writer, c.App.ErrWriter, msg, len(slots) != 1)
		}
	})
	group.Go(func() error {
		lines := make(chan string)
		readErr := make(chan error, 1)
		go func() {
			scanner := bufio.NewScanner(c.App.Reader)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			readErr <- scanner.Err()
		}()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case err := <-readErr:
				// stdin closed, keep streaming until interrupted
				return err
			case line := <-lines:
				if err := conn.Input(groupCtx, inputSlot, line); err != nil {
					return err
				}
			}
		}
	})
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printMessage(out, errOut io.Writer, msg gateway.Message, prefixSlot bool) {
	prefix := ""
	if prefixSlot {
		prefix = "[" + msg.Slot + "] "
	}
	switch msg.Type {
	case gateway.MessageOutput:
		if msg.Stream == "stdin" {
			fmt.Fprintf(out, "%s>>> %s\n", prefix, msg.Text)
			return
		}
		fmt.Fprint(out, prefix+msg.Text)
	case gateway.MessageError:
		if msg.Stream == "stderr" {
			fmt.Fprint(errOut, prefix+msg.Text)
			return
		}
		fmt.Fprintf(errOut, "%serror (%s): %s\n", prefix, msg.Kind, msg.Text)
	case gateway.MessageStatus:
		line := fmt.Sprintf("%sstatus: %s", prefix, msg.State)
		if msg.Tag != "" {
			line += " (" + msg.Tag + ")"
		}
		fmt.Fprintln(errOut, line)
	case gateway.MessageExited:
		code := -1
		if msg.ExitCode != nil {
			code = *msg.ExitCode
		}
		fmt.Fprintf(out, "%sProcess exited with code %d\n", prefix, code)
		if msg.Signal != "" {
			fmt.Fprintf(errOut, "%skilled by %s\n", prefix, msg.Signal)
		}
	}
}
