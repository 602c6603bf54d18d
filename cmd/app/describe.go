package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/local/imagedescriber/internal/describe"
	logpkg "github.com/local/imagedescriber/internal/logger"
	"github.com/local/imagedescriber/internal/source"
)

var describeCommand = &cli.Command{
	Name:  "describe",
	Usage: "Describe a single image and print the result",
	Description: `Exactly one of --file, --image or --image-ref must be given.
Output is plain text on a terminal and a JSON line otherwise (or with --json).`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "file",
			Usage:   "Path to a local image file",
			Aliases: []string{"f"},
		},
		&cli.StringFlag{
			Name:  "image",
			Usage: "Base64 payload or data URL",
		},
		&cli.StringFlag{
			Name:  "image-ref",
			Usage: "Remote reference (s3://bucket/key or http(s)://...)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Always print JSON",
		},
	},
	Action: func(c *cli.Context) error {
		given := 0
		for _, name := range []string{"file", "image", "image-ref"} {
			if c.String(name) != "" {
				given++
			}
		}
		if given != 1 {
			return cli.Exit("exactly one of --file, --image or --image-ref is required", 2)
		}

		// keep stdout clean for the result
		cfg, err := bootstrap(os.Stderr)
		if err != nil {
			return err
		}
		defer logpkg.Close()

		svc, lim := newService(c.Context, cfg)
		defer lim.CloseClient()

		var img describe.Image
		switch {
		case c.String("file") != "":
			img, err = describe.FromFile(c.String("file"), false)
		case c.String("image") != "":
			img, err = describe.NormalizeString(c.String("image"))
		default:
			// the operator asked for it explicitly, so the server-side switch does not apply
			opts := sourceOptions(cfg)
			opts.AllowRemote = true
			opts.TempDir = ""
			var p string
			p, err = source.New(opts).Fetch(c.Context, c.String("image-ref"))
			if err == nil {
				img, err = describe.FromFile(p, true)
			}
		}
		if err != nil {
			return describeError(err)
		}

		res, err := svc.Describe(c.Context, img)
		if err != nil {
			return describeError(err)
		}
		return printResult(c.App.Writer, res, c.Bool("json"))
	},
}

func printResult(w io.Writer, res describe.Result, forceJSON bool) error {
	if w == nil {
		w = os.Stdout
	}
	if f, ok := w.(*os.File); ok && !forceJSON && isatty.IsTerminal(f.Fd()) {
		_, err := fmt.Fprintln(w, res.Description)
		return err
	}
	return json.NewEncoder(w).Encode(map[string]string{
		"analysis": res.Description,
		"shape":    string(res.Shape),
		"model":    res.Model,
	})
}

// describeError keeps the error kind and any upstream body visible to the operator.
func describeError(err error) error {
	msg := fmt.Sprintf("%s: %v", describe.KindOf(err), err)
	if raw := describe.RawPayload(err); raw != "" {
		msg += "\n" + raw
	}
	code := 1
	var valErr *describe.ValidationError
	if errors.As(err, &valErr) {
		code = 2
	}
	return cli.Exit(msg, code)
}
