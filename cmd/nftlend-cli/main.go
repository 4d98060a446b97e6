package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"nftlend/cmd/internal/passphrase"
	"nftlend/crypto"
)

const keystorePassEnv = "NFTLEND_KEYSTORE_PASS"

func main() {
	if err := run(os.Args[1:], os.Stdout, passphrase.NewSource(keystorePassEnv).Resolve); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, pass func(confirm bool) (string, error)) error {
	if len(args) < 1 {
		printUsage(out)
		return nil
	}
	switch args[0] {
	case "generate-key":
		return generateKey(args[1:], out, pass)
	case "offer-hash":
		return offerHash(args[1:], out)
	case "sign-offer":
		return signOffer(args[1:], out, pass)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: nftlend-cli <command> [flags]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  generate-key -keystore <path>                 Create a lender key in an encrypted keystore")
	fmt.Fprintln(out, "  offer-hash   -offer <file>                    Print the typed-data hash of an offer document")
	fmt.Fprintln(out, "  sign-offer   -offer <file> -keystore <path>   Sign an offer document with a keystore key")
	fmt.Fprintf(out, "\nThe keystore passphrase is read from %s or prompted for.\n", keystorePassEnv)
}

func generateKey(args []string, out io.Writer, pass func(confirm bool) (string, error)) error {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	path := fs.String("keystore", "lender.keystore", "Keystore file to create")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := pass(true)
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveSignerKey(*path, key, secret); err != nil {
		return fmt.Errorf("save keystore %s: %w", *path, err)
	}
	display, err := crypto.Bech32(key.Address())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Generated new key and saved to %s\n", *path)
	fmt.Fprintf(out, "Address: %s\n", key.Address().Hex())
	fmt.Fprintf(out, "Display: %s\n", display)
	return nil
}

func offerHash(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("offer-hash", flag.ContinueOnError)
	path := fs.String("offer", "", "Offer document (JSON)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	parsed, err := loadAndParse(*path)
	if err != nil {
		return err
	}
	hash, err := parsed.hash()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash.Hex())
	return nil
}

func signOffer(args []string, out io.Writer, pass func(confirm bool) (string, error)) error {
	fs := flag.NewFlagSet("sign-offer", flag.ContinueOnError)
	path := fs.String("offer", "", "Offer document (JSON)")
	keystorePath := fs.String("keystore", "lender.keystore", "Keystore holding the signer key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	parsed, err := loadAndParse(*path)
	if err != nil {
		return err
	}
	secret, err := pass(false)
	if err != nil {
		return err
	}
	key, err := crypto.LoadSignerKey(*keystorePath, secret)
	if err != nil {
		return fmt.Errorf("load keystore %s: %w", *keystorePath, err)
	}
	if key.Address() != parsed.auth.Signer {
		return fmt.Errorf("keystore key %s does not match offer signer %s", key.Address().Hex(), parsed.auth.Signer.Hex())
	}
	hash, err := parsed.hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash.Bytes())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Hash:      %s\n", hash.Hex())
	fmt.Fprintf(out, "Signature: 0x%s\n", hex.EncodeToString(sig))
	return nil
}

func loadAndParse(path string) (*parsedOffer, error) {
	if path == "" {
		return nil, fmt.Errorf("-offer is required")
	}
	doc, err := loadOfferDocument(path)
	if err != nil {
		return nil, err
	}
	return doc.parse()
}
