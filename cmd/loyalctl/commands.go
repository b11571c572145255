package main

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/distribution"
	"github.com/loyalpass/loyalpass/internal/entropy"
	"github.com/loyalpass/loyalpass/internal/keystore"
	"github.com/loyalpass/loyalpass/internal/passes"
	"github.com/loyalpass/loyalpass/internal/payload"
	"github.com/loyalpass/loyalpass/internal/signin"
)

func commandKeygen() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate a keypair file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Required: true},
			&cli.StringFlag{Name: "passphrase", EnvVars: []string{"KEYGEN_PASSPHRASE"}, Usage: "encrypt the file; empty writes a plain JSON byte array"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
		},
		Action: func(c *cli.Context) error {
			out := c.String("out")
			if _, err := os.Stat(out); err == nil && !c.Bool("force") {
				return fmt.Errorf("%s exists, use --force to overwrite", out)
			}
			kp, err := chain.NewKeypair(rand.Reader)
			if err != nil {
				return err
			}
			if err := keystore.Save(out, kp, c.String("passphrase")); err != nil {
				return err
			}
			fmt.Println(kp.PublicKey().String())
			return nil
		},
	}
}

func commandHashToken() *cli.Command {
	return &cli.Command{
		Name:      "hash-token",
		Usage:     "print the bcrypt hash to use as ADMIN_TOKEN_HASH",
		ArgsUsage: "<token>",
		Action: func(c *cli.Context) error {
			token := c.Args().First()
			if token == "" {
				return errors.New("token argument is required")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Println(string(hash))
			return nil
		},
	}
}

func commandCreateAsset() *cli.Command {
	return &cli.Command{
		Name:  "create-asset",
		Usage: "create the loyalty asset unless one is on record",
		Action: func(c *cli.Context) error {
			rt, err := newIssuerRuntime(c.Context)
			if err != nil {
				return err
			}
			defer rt.Close()

			a, created, err := rt.assets.Ensure(c.Context)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintln(os.Stderr, "asset already on record")
			}
			return printJSON(a)
		},
	}
}

func commandMint() *cli.Command {
	return &cli.Command{
		Name:  "mint",
		Usage: "mint points to a holder",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Required: true},
			&cli.StringFlag{Name: "amount", Required: true},
		},
		Action: func(c *cli.Context) error {
			rt, err := newIssuerRuntime(c.Context)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := distribution.NewService(rt.assets, rt.engine, nil, rt.logger)
			res, err := svc.Mint(c.Context, distribution.Input{Recipient: c.String("to"), Amount: c.String("amount")})
			if err != nil {
				return err
			}
			fmt.Println(res.Signature.String())
			return nil
		},
	}
}

func commandBalance() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "print the native and asset balance of an address",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Required: true},
		},
		Action: func(c *cli.Context) error {
			rt, err := newIssuerRuntime(c.Context)
			if err != nil {
				return err
			}
			defer rt.Close()

			owner, err := chain.PublicKeyFromBase58(c.String("address"))
			if err != nil {
				return err
			}
			a, err := rt.assets.Get(c.Context)
			if err != nil {
				return err
			}
			b, err := rt.engine.Balances(c.Context, owner, a)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", amount.FromUint64(b.Asset, a.Decimals).String(), a.Symbol)
			fmt.Printf("%s SOL\n", amount.FromUint64(b.Native, 9).String())
			return nil
		},
	}
}

func commandNonce() *cli.Command {
	return &cli.Command{
		Name:  "nonce",
		Usage: "print a fresh 96-bit nonce",
		Action: func(c *cli.Context) error {
			nonce, err := entropy.Nonce()
			if err != nil {
				return err
			}
			fmt.Println(nonce)
			return nil
		},
	}
}

func commandSign() *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "sign a challenge as a holder and print the POST /passes request body",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "keypair", Required: true},
			&cli.StringFlag{Name: "passphrase", EnvVars: []string{"HOLDER_PASSPHRASE"}},
			&cli.StringFlag{Name: "domain", Required: true},
			&cli.StringFlag{Name: "nonce", Usage: "session nonce from GET /nonce; generated when empty"},
			&cli.StringFlag{Name: "asset", Usage: "asset mint to request the pass for"},
			&cli.StringFlag{Name: "chain-id", Value: "solana:devnet"},
			&cli.DurationFlag{Name: "ttl", Usage: "set an expiration time this far ahead"},
		},
		Action: func(c *cli.Context) error {
			kp, err := keystore.Load(c.String("keypair"), c.String("passphrase"))
			if err != nil {
				return err
			}
			nonce := c.String("nonce")
			if nonce == "" {
				if nonce, err = entropy.Nonce(); err != nil {
					return err
				}
			}
			now := time.Now()
			ch := signin.NewChallenge(kp.PublicKey().String(), c.String("domain"), nonce, c.String("chain-id"), now)
			if ttl := c.Duration("ttl"); ttl > 0 {
				ch.ExpirationTime = signin.FormatTime(now.Add(ttl))
			}
			proof, err := signin.Sign(kp.PrivateKey(), ch)
			if err != nil {
				return err
			}
			return printJSON(passes.Request{
				AssetMint: c.String("asset"),
				Challenge: ch,
				Proof:     proof,
				Nonce:     nonce,
			})
		},
	}
}

func commandDecode() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "decode and verify a redemption frame read from the argument or stdin",
		ArgsUsage: "[frame]",
		Action: func(c *cli.Context) error {
			raw := c.Args().First()
			if raw == "" {
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
				if scanner.Scan() {
					raw = scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					return err
				}
			}
			frame, err := payload.Decode(strings.TrimSpace(raw))
			if err != nil {
				return err
			}
			report := struct {
				Challenge   signin.Challenge `json:"challenge"`
				Address     string           `json:"address"`
				ReplayNonce string           `json:"replayNonce"`
				Binding     string           `json:"binding"`
				Verified    bool             `json:"verified"`
				Problem     string           `json:"problem,omitempty"`
			}{
				Challenge:   frame.Challenge,
				Address:     frame.Proof.Account.Address,
				ReplayNonce: frame.ReplayNonce,
				Binding:     frame.Binding(),
			}
			if err := signin.Check(frame.Challenge, frame.Proof); err != nil {
				report.Problem = err.Error()
			} else if err := frame.Challenge.CheckWindow(time.Now()); err != nil {
				report.Problem = err.Error()
			} else {
				report.Verified = true
			}
			return printJSON(report)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
