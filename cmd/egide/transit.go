package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/nubster/egide/cmd/flags"
	"github.com/nubster/egide/cryptoutils"
	"github.com/urfave/cli/v2"
)

var flagPlaintext = &cli.StringFlag{
	Name:     "plaintext",
	Required: true,
	Usage:    "data to encrypt; '-' reads stdin and '@path' reads a file",
}
var flagCiphertext = &cli.StringFlag{
	Name:     "ciphertext",
	Required: true,
	Usage:    "ciphertext in egide wire form; '-' reads stdin and '@path' reads a file",
}
var flagInput = &cli.StringFlag{
	Name:     "input",
	Required: true,
	Usage:    "data to sign or verify; '-' reads stdin and '@path' reads a file",
}
var flagSignature = &cli.StringFlag{
	Name:     "signature",
	Required: true,
	Usage:    "signature in egide wire form or bare base64",
}
var flagContext = &cli.StringFlag{
	Name:  "context",
	Usage: "associated context bound to the ciphertext",
}
var flagInputBase64 = &cli.BoolFlag{
	Name:  "base64",
	Usage: "treat plaintext or input as base64",
}
var flagAlgorithm = &cli.StringFlag{
	Name:  "algorithm",
	Usage: "signature hash: sha2-256, sha2-384 or sha2-512 (key type default when empty)",
}
var flagBits = &cli.IntFlag{
	Name:  "bits",
	Value: 256,
	Usage: "data key size: 128, 256 or 512",
}
var flagWrapped = &cli.BoolFlag{
	Name:  "wrapped",
	Usage: "return only the wrapped data key",
}

var transitCommand = &cli.Command{
	Name:  "transit",
	Usage: "Encrypt, decrypt and sign with named keys",
	Subcommands: []*cli.Command{
		{
			Name:      "encrypt",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagPlaintext, flagContext, flagInputBase64},
			Action:    transitEncrypt,
		},
		{
			Name:      "decrypt",
			Usage:     "Decrypt and print the plaintext base64 encoded",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagCiphertext, flagContext},
			Action:    transitDecrypt,
		},
		{
			Name:      "rewrap",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagCiphertext, flagContext},
			Action:    transitRewrap,
		},
		{
			Name:      "sign",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagInput, flagInputBase64, flagAlgorithm},
			Action:    transitSign,
		},
		{
			Name:      "verify",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagInput, flagInputBase64, flagSignature, flagAlgorithm},
			Action:    transitVerify,
		},
		{
			Name:      "datakey",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagBits, flagWrapped, flagContext},
			Action:    transitDatakey,
		},
	},
}

func encContext(cCtx *cli.Context) []byte {
	if v := cCtx.String(flagContext.Name); v != "" {
		return []byte(v)
	}
	return nil
}

func transitEncrypt(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	plaintext, err := readInput(cCtx.String(flagPlaintext.Name), cCtx.Bool(flagInputBase64.Name))
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(plaintext)

	res, err := flags.NewClient(cCtx).Encrypt(cCtx.Context, name, plaintext, encContext(cCtx))
	if err != nil {
		return err
	}
	fmt.Println(res.Ciphertext)
	return nil
}

func transitDecrypt(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	ciphertext, err := readInput(cCtx.String(flagCiphertext.Name), false)
	if err != nil {
		return err
	}

	plaintext, err := flags.NewClient(cCtx).Decrypt(cCtx.Context, name, strings.TrimSpace(string(ciphertext)), encContext(cCtx))
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(plaintext)
	fmt.Println(base64.StdEncoding.EncodeToString(plaintext))
	return nil
}

func transitRewrap(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	ciphertext, err := readInput(cCtx.String(flagCiphertext.Name), false)
	if err != nil {
		return err
	}

	res, err := flags.NewClient(cCtx).Rewrap(cCtx.Context, name, strings.TrimSpace(string(ciphertext)), encContext(cCtx))
	if err != nil {
		return err
	}
	fmt.Println(res.Ciphertext)
	return nil
}

func transitSign(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	input, err := readInput(cCtx.String(flagInput.Name), cCtx.Bool(flagInputBase64.Name))
	if err != nil {
		return err
	}

	res, err := flags.NewClient(cCtx).Sign(cCtx.Context, name, input,
		cryptoutils.SignatureAlgorithm(cCtx.String(flagAlgorithm.Name)))
	if err != nil {
		return err
	}
	fmt.Println(res.Signature)
	return nil
}

func transitVerify(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	input, err := readInput(cCtx.String(flagInput.Name), cCtx.Bool(flagInputBase64.Name))
	if err != nil {
		return err
	}

	valid, err := flags.NewClient(cCtx).Verify(cCtx.Context, name, input, cCtx.String(flagSignature.Name),
		cryptoutils.SignatureAlgorithm(cCtx.String(flagAlgorithm.Name)))
	if err != nil {
		return err
	}
	if !valid {
		return cli.Exit("signature is not valid", 1)
	}
	fmt.Println("signature is valid")
	return nil
}

func transitDatakey(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	res, err := flags.NewClient(cCtx).GenerateDatakey(cCtx.Context, name, cCtx.Int(flagBits.Name),
		cCtx.Bool(flagWrapped.Name), encContext(cCtx))
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(res.Plaintext)
	return printJSON(os.Stdout, res)
}
