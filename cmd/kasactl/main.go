package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/cloudkucooland/gokasa/credentials"
	"github.com/cloudkucooland/gokasa/discovery"
	"github.com/cloudkucooland/gokasa/protocol"
)

func main() {
	var username, password string
	var timeout time.Duration

	app := &cli.App{
		Name:  "kasactl",
		Usage: "discover and query TP-Link Kasa/Tapo devices",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Destination: &username},
			&cli.StringFlag{Name: "password", Destination: &password},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Destination: &timeout},
		},
		Commands: []*cli.Command{
			{
				Name:  "discover",
				Usage: "broadcast for devices and print raw discovery results",
				Action: func(c *cli.Context) error {
					found, failed := discovery.Discover(context.Background(), discovery.Options{Timeout: timeout})
					return printJSON(map[string]interface{}{
						"found":  found,
						"failed": errsToStrings(failed),
					})
				},
			},
			{
				Name:      "query",
				Usage:     "connect to a host and issue a JSON request",
				ArgsUsage: "<host> <json-request>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() < 2 {
						return cli.Exit("query requires <host> and <json-request>", 1)
					}
					host := c.Args().Get(0)
					raw := c.Args().Get(1)

					var methods map[string]interface{}
					if err := json.Unmarshal([]byte(raw), &methods); err != nil {
						return cli.Exit(fmt.Errorf("kasactl: bad json-request: %w", err), 1)
					}

					creds := credentials.Credentials{Username: username, Password: password}
					ctx := context.Background()
					cfg, _, err := discovery.DiscoverSingleWithFallback(ctx, host, creds, discovery.Options{Timeout: timeout})
					if err != nil {
						return cli.Exit(err, 1)
					}

					p, _, err := protocol.Select(cfg, logrus.NewEntry(logrus.StandardLogger()))
					if err != nil {
						return cli.Exit(err, 1)
					}
					defer p.Close()

					res, err := p.Query(ctx, methods)
					if err != nil {
						return cli.Exit(err, 1)
					}
					return printJSON(res)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("kasactl: failed")
	}
}

func errsToStrings(errs map[string]error) map[string]string {
	out := make(map[string]string, len(errs))
	for k, v := range errs {
		out[k] = v.Error()
	}
	return out
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
