package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/clonos-sigmod21/clonos/internal/causal/determinant"
	"github.com/clonos-sigmod21/clonos/internal/protocol"
	"github.com/clonos-sigmod21/clonos/pkg/util/loggerutil"
)

const (
	appName = "causalctl"
	version = "0.1.0"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "log-file", Usage: "rotated log file path; stderr only if unset"},
		&cli.BoolFlag{Name: "debug", Usage: "console-encoded, debug-level logging"},
	}
}

func newCausalCtlApp() *cli.App {
	return &cli.App{
		Name:     appName,
		Usage:    "inspect the causal recovery core's wire artifacts offline",
		Version:  version,
		Compiled: time.Now(),
		Commands: []*cli.Command{
			newDecodeResponseCommand(),
			newDecodeDeterminantsCommand(),
		},
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	return loggerutil.New(loggerutil.Options{
		Path:  c.String("log-file"),
		Debug: c.Bool("debug"),
	})
}

func newDecodeResponseCommand() *cli.Command {
	return &cli.Command{
		Name:  "decode-response",
		Usage: "decode a DeterminantResponseEvent wire dump and print its deltas",
		Flags: append(commonFlags(),
			&cli.StringFlag{Name: "file", Required: true, Usage: "path to the raw wire dump"},
		),
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			data, err := os.ReadFile(c.String("file"))
			if err != nil {
				return err
			}
			logger.Debug("decoding determinant response", zap.String("file", c.String("file")), zap.Int("bytes", len(data)))
			resp, rest, err := protocol.DecodeDeterminantResponseEvent(data)
			if err != nil {
				return err
			}
			if len(rest) > 0 {
				logger.Warn("trailing bytes after event", zap.Int("count", len(rest)))
			}
			fmt.Printf("found=%v vertex=%d correlation_id=%d deltas=%d\n", resp.Found, resp.VertexID, resp.CorrelationID, len(resp.Deltas))
			for _, d := range resp.Deltas {
				fmt.Printf("  %s payload_bytes=%d\n", d.ID, len(d.Payload))
			}
			return nil
		},
	}
}

func newDecodeDeterminantsCommand() *cli.Command {
	return &cli.Command{
		Name:  "decode-determinants",
		Usage: "decode a raw determinant stream (one CausalLogID's payload) and print each entry",
		Flags: append(commonFlags(),
			&cli.StringFlag{Name: "file", Required: true, Usage: "path to the raw determinant payload"},
		),
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			data, err := os.ReadFile(c.String("file"))
			if err != nil {
				return err
			}
			logger.Debug("decoding determinant stream", zap.String("file", c.String("file")), zap.Int("bytes", len(data)))
			dets, err := (determinant.Encoder{}).ParseAll(data)
			if err != nil {
				return err
			}
			for i, d := range dets {
				fmt.Printf("%d: %s\n", i, d)
			}
			return nil
		},
	}
}
