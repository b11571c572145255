package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func init() {
	//nolint:errcheck
	godotenv.Load("./.env")
}

func main() {
	app := &cli.App{
		Name:  "loyalctl",
		Usage: "operate the loyalty point issuer",
		Commands: []*cli.Command{
			commandKeygen(),
			commandHashToken(),
			commandCreateAsset(),
			commandMint(),
			commandBalance(),
			commandNonce(),
			commandSign(),
			commandDecode(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
