package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/nubster/egide/cmd/flags"
	"github.com/nubster/egide/kms"
	"github.com/urfave/cli/v2"
)

var flagKeyType = &cli.StringFlag{
	Name:  "type",
	Value: "aes256",
	Usage: "key type: aes256, rsa-2048, rsa-4096, ecdsa-p256, ecdsa-p384 or ed25519",
}
var flagExportable = &cli.BoolFlag{
	Name:  "exportable",
	Usage: "allow key material export",
}
var flagDeletionAllowed = &cli.BoolFlag{
	Name:  "deletion-allowed",
	Usage: "allow hard deletion",
}
var flagConvergent = &cli.BoolFlag{
	Name:  "convergent",
	Usage: "derive nonces from plaintext and context (aes256 only)",
}
var flagHard = &cli.BoolFlag{
	Name:  "hard",
	Usage: "remove the key and all versions permanently",
}
var flagVersion = &cli.IntFlag{
	Name:  "version",
	Usage: "key version (0 selects the current version)",
}
var flagMinDecryption = &cli.IntFlag{
	Name:  "min-decryption-version",
	Usage: "lowest version accepted for decrypt, verify and rewrap",
}
var flagMinEncryption = &cli.IntFlag{
	Name:  "min-encryption-version",
	Usage: "lowest version accepted for encrypt",
}
var flagDisabled = &cli.BoolFlag{
	Name:  "disabled",
	Usage: "refuse all operations with the key",
}

var kmsCommand = &cli.Command{
	Name:  "kms",
	Usage: "Manage named keys",
	Subcommands: []*cli.Command{
		{
			Name:      "create",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagKeyType, flagExportable, flagDeletionAllowed, flagConvergent},
			Action:    kmsCreate,
		},
		{
			Name:   "list",
			Action: kmsList,
		},
		{
			Name:      "info",
			ArgsUsage: "<name>",
			Action:    kmsInfo,
		},
		{
			Name:      "config",
			Usage:     "Update key policy; only flags given on the command line change",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagMinDecryption, flagMinEncryption, flagExportable, flagDeletionAllowed, flagDisabled},
			Action:    kmsConfig,
		},
		{
			Name:      "rotate",
			ArgsUsage: "<name>",
			Action:    kmsRotate,
		},
		{
			Name:      "delete",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagHard},
			Action:    kmsDelete,
		},
		{
			Name:      "undelete",
			ArgsUsage: "<name>",
			Action:    kmsUndelete,
		},
		{
			Name:      "export",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{flagVersion},
			Action:    kmsExport,
		},
		{
			Name:      "destroy-version",
			ArgsUsage: "<name> <version>",
			Action:    kmsDestroyVersion,
		},
	},
}

func kmsCreate(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	info, err := flags.NewClient(cCtx).CreateKey(cCtx.Context, name, cCtx.String(flagKeyType.Name), kms.CreateKeyOptions{
		Exportable:      cCtx.Bool(flagExportable.Name),
		DeletionAllowed: cCtx.Bool(flagDeletionAllowed.Name),
		Convergent:      cCtx.Bool(flagConvergent.Name),
	})
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, info)
}

func kmsList(cCtx *cli.Context) error {
	keys, err := flags.NewClient(cCtx).ListKeys(cCtx.Context)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Printf("%s\t%s\tv%d\n", key.Name, key.Type, key.CurrentVersion)
	}
	return nil
}

func kmsInfo(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	info, err := flags.NewClient(cCtx).GetKey(cCtx.Context, name)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, info)
}

func kmsConfig(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}

	var update kms.KeyConfigUpdate
	if cCtx.IsSet(flagMinDecryption.Name) {
		v := cCtx.Int(flagMinDecryption.Name)
		update.MinDecryptionVersion = &v
	}
	if cCtx.IsSet(flagMinEncryption.Name) {
		v := cCtx.Int(flagMinEncryption.Name)
		update.MinEncryptionVersion = &v
	}
	if cCtx.IsSet(flagExportable.Name) {
		v := cCtx.Bool(flagExportable.Name)
		update.Exportable = &v
	}
	if cCtx.IsSet(flagDeletionAllowed.Name) {
		v := cCtx.Bool(flagDeletionAllowed.Name)
		update.DeletionAllowed = &v
	}
	if cCtx.IsSet(flagDisabled.Name) {
		v := cCtx.Bool(flagDisabled.Name)
		update.Disabled = &v
	}

	info, err := flags.NewClient(cCtx).UpdateKeyConfig(cCtx.Context, name, update)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, info)
}

func kmsRotate(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	info, err := flags.NewClient(cCtx).RotateKey(cCtx.Context, name)
	if err != nil {
		return err
	}
	fmt.Printf("Key %s rotated to version %d\n", info.Name, info.CurrentVersion)
	return nil
}

func kmsDelete(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	hard := cCtx.Bool(flagHard.Name)
	if err := flags.NewClient(cCtx).DeleteKey(cCtx.Context, name, hard); err != nil {
		return err
	}
	if hard {
		fmt.Printf("Key %s permanently deleted\n", name)
	} else {
		fmt.Printf("Key %s deleted, restore it with undelete\n", name)
	}
	return nil
}

func kmsUndelete(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	info, err := flags.NewClient(cCtx).UndeleteKey(cCtx.Context, name)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, info)
}

func kmsExport(cCtx *cli.Context) error {
	name, err := keyName(cCtx)
	if err != nil {
		return err
	}
	res, err := flags.NewClient(cCtx).Export(cCtx.Context, name, cCtx.Int(flagVersion.Name))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func kmsDestroyVersion(cCtx *cli.Context) error {
	if cCtx.NArg() != 2 {
		return fmt.Errorf("expected <name> <version>, got %d arguments", cCtx.NArg())
	}
	name := cCtx.Args().Get(0)
	version, err := strconv.Atoi(cCtx.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", cCtx.Args().Get(1), err)
	}
	if err := flags.NewClient(cCtx).DestroyVersion(cCtx.Context, name, version); err != nil {
		return err
	}
	fmt.Printf("Version %d of key %s destroyed\n", version, name)
	return nil
}
