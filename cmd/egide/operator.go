package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/nubster/egide/cmd/flags"
	"github.com/nubster/egide/seal"
	"github.com/urfave/cli/v2"
)

var flagKeyShares = &cli.IntFlag{
	Name:  "key-shares",
	Value: 5,
	Usage: "number of unseal key shares to generate",
}
var flagKeyThreshold = &cli.IntFlag{
	Name:  "key-threshold",
	Value: 3,
	Usage: "number of shares required to unseal",
}
var flagReset = &cli.BoolFlag{
	Name:  "reset",
	Usage: "discard unseal progress",
}

var operatorCommand = &cli.Command{
	Name:  "operator",
	Usage: "Seal lifecycle operations",
	Subcommands: []*cli.Command{
		{
			Name:   "init",
			Usage:  "Initialize the server and print the unseal shares and root token",
			Flags:  []cli.Flag{flagKeyShares, flagKeyThreshold},
			Action: operatorInit,
		},
		{
			Name:      "unseal",
			Usage:     "Submit one unseal share (read from stdin when omitted)",
			ArgsUsage: "[share]",
			Flags:     []cli.Flag{flagReset},
			Action:    operatorUnseal,
		},
		{
			Name:   "seal",
			Usage:  "Seal the server, requires the root token",
			Action: operatorSeal,
		},
		{
			Name:   "status",
			Usage:  "Show seal status",
			Action: operatorStatus,
		},
		{
			Name:   "generate-root",
			Usage:  "Generate a new root token from unseal shares",
			Action: operatorGenerateRoot,
		},
	},
}

func operatorInit(cCtx *cli.Context) error {
	client := flags.NewClient(cCtx)
	res, err := client.Init(cCtx.Context, cCtx.Int(flagKeyShares.Name), cCtx.Int(flagKeyThreshold.Name))
	if err != nil {
		return err
	}

	for i, key := range res.Keys {
		fmt.Printf("Unseal Key %d: %s\n", i+1, key)
	}
	fmt.Printf("\nInitial Root Token: %s\n\n", res.RootToken)
	fmt.Printf("The server is initialized with %d key shares and a key threshold of %d.\n",
		cCtx.Int(flagKeyShares.Name), cCtx.Int(flagKeyThreshold.Name))
	fmt.Println("Distribute the shares to separate operators. They are not stored anywhere.")
	return nil
}

func operatorUnseal(cCtx *cli.Context) error {
	client := flags.NewClient(cCtx)
	if cCtx.Bool(flagReset.Name) {
		status, err := client.ResetUnseal(cCtx.Context)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, status)
	}

	share := cCtx.Args().First()
	if share == "" {
		var err error
		if share, err = promptLine("Unseal key share: "); err != nil {
			return err
		}
	}

	status, err := client.Unseal(cCtx.Context, share)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, status)
}

func operatorSeal(cCtx *cli.Context) error {
	if err := flags.NewClient(cCtx).Seal(cCtx.Context); err != nil {
		return err
	}
	fmt.Println("Server sealed")
	return nil
}

func operatorStatus(cCtx *cli.Context) error {
	status, err := flags.NewClient(cCtx).SealStatus(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, status)
}

// operatorGenerateRoot runs a whole generate-root session interactively,
// prompting for shares until the threshold is met.
func operatorGenerateRoot(cCtx *cli.Context) error {
	client := flags.NewClient(cCtx)

	otp, err := seal.GenerateOTP()
	if err != nil {
		return err
	}
	attempt, err := client.GenerateRootInit(cCtx.Context, otp)
	if err != nil {
		return err
	}
	fmt.Printf("Nonce: %s\nOTP: %s\n", attempt.Nonce, base64.StdEncoding.EncodeToString(otp))

	status := attempt
	for !status.Complete {
		share, err := promptLine(fmt.Sprintf("Unseal key share (%d/%d): ", status.Progress+1, status.Required))
		if err != nil {
			_ = client.GenerateRootCancel(cCtx.Context)
			return err
		}
		if status, err = client.GenerateRootUpdate(cCtx.Context, attempt.Nonce, share); err != nil {
			return err
		}
	}

	token, err := seal.DecodeRootToken(status.EncodedToken, otp)
	if err != nil {
		return fmt.Errorf("failed to decode root token: %w", err)
	}
	fmt.Printf("Root Token: %s\n", token)
	return nil
}

var stdin = bufio.NewReader(os.Stdin)

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
