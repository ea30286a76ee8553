// Command mirrorctl is the operator CLI against a running mirrord's status
// endpoint (event.Server): inspect child liveness, flip a child up/down for
// testing, and trigger an explicit self-heal by gfid.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "mirrorctl"
	app.Usage = "operator CLI for a running mirrord daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: "http://127.0.0.1:8911", Usage: "mirrord status endpoint base URL"},
		cli.StringFlag{Name: "token", Usage: "bearer JWT for the admin endpoints, if auth is enabled"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "status",
			Usage: "print per-child liveness",
			Action: func(c *cli.Context) error {
				return get(c, "/status", nil)
			},
		},
		{
			Name:      "child",
			Usage:     "force a child up/down transition (testing only)",
			ArgsUsage: "<index> <up|down>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return cli.NewExitError("usage: mirrorctl child <index> <up|down>", 1)
				}
				path := fmt.Sprintf("/children/%s?event=%s", c.Args().Get(0), c.Args().Get(1))
				return post(c, path)
			},
		},
		{
			Name:      "heal",
			Usage:     "trigger an explicit self-heal for a gfid (32 hex chars)",
			ArgsUsage: "<gfid-hex>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return cli.NewExitError("usage: mirrorctl heal <gfid-hex>", 1)
				}
				return post(c, "/heal/"+c.Args().Get(0))
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mirrorctl:", err)
		os.Exit(1)
	}
}

func newRequest(c *cli.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequest(method, c.GlobalString("addr")+path, nil)
	if err != nil {
		return nil, err
	}
	if tok := c.GlobalString("token"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func get(c *cli.Context, path string, out interface{}) error {
	req, err := newRequest(c, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return cli.NewExitError(fmt.Sprintf("mirrord replied %s: %s", resp.Status, body), 1)
	}
	if len(body) > 0 {
		var pretty map[string]interface{}
		if json.Unmarshal(body, &pretty) == nil {
			enc, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(enc))
		} else {
			fmt.Println(string(body))
		}
	}
	return nil
}

func post(c *cli.Context, path string) error {
	req, err := newRequest(c, http.MethodPost, path)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return cli.NewExitError(fmt.Sprintf("mirrord replied %s: %s", resp.Status, body), 1)
	}
	fmt.Println("ok")
	return nil
}
