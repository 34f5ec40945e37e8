package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/nubster/egide/cmd/flags"
	"github.com/nubster/egide/common"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "egide",
		Usage:   "Operate an egide server",
		Version: common.Version,
		Flags:   flags.ClientFlags,
		Commands: []*cli.Command{
			operatorCommand,
			kmsCommand,
			transitCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput returns the bytes named by value: "-" reads stdin, "@path" reads
// a file, anything else is taken literally. With isBase64 the result is
// base64 decoded.
func readInput(value string, isBase64 bool) ([]byte, error) {
	var raw []byte
	switch {
	case value == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		raw = data
	case strings.HasPrefix(value, "@"):
		data, err := os.ReadFile(value[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		raw = data
	default:
		raw = []byte(value)
	}

	if !isBase64 {
		return raw, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("input is not valid base64: %w", err)
	}
	return decoded, nil
}

func keyName(cCtx *cli.Context) (string, error) {
	if cCtx.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one key name argument, got %d", cCtx.NArg())
	}
	return cCtx.Args().First(), nil
}
