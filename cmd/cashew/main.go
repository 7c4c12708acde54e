package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ecashkit/cashew/cashu"
	"github.com/ecashkit/cashew/cashu/nuts/nut04"
	"github.com/ecashkit/cashew/wallet"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var cashew *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	config := wallet.Config{
		WalletPath:     path,
		CurrentMintURL: "https://8333.space:3338",
		Unit:           cashu.Sat,
	}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}

	if len(envPath) > 0 {
		godotenv.Load(envPath)
	}

	if mintURL := os.Getenv("MINT_URL"); len(mintURL) > 0 {
		config.CurrentMintURL = mintURL
	}
	if unitStr := os.Getenv("WALLET_UNIT"); len(unitStr) > 0 {
		unit, err := cashu.UnitFromString(unitStr)
		if err != nil {
			log.Fatalf("invalid WALLET_UNIT '%v'", unitStr)
		}
		config.Unit = unit
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".cashew", "wallet")
	if err = os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func setupWallet(ctx *cli.Context) error {
	config := walletConfig()

	var err error
	cashew, err = wallet.LoadWallet(config)
	if err != nil {
		printErr(err)
	}

	if cashew.Mnemonic() == "" {
		mnemonic, err := cashew.GenerateMnemonic()
		if err != nil {
			printErr(err)
		}
		fmt.Println("generated a new wallet seed. Write down the mnemonic to be able to recover your funds:")
		fmt.Printf("\n%v\n\n", mnemonic)
	}

	return nil
}

func main() {
	app := &cli.App{
		Name:  "cashew",
		Usage: "cashu ecash wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			mnemonicCmd,
			restoreCmd,
			decodeCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		printErr(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	unit := cashew.Unit()
	fmt.Printf("%v\n", unit.FormatAmount(cashew.Balance()))
	if pending := cashew.PendingBalance(); pending > 0 {
		fmt.Printf("pending: %v\n", unit.FormatAmount(pending))
	}
	return nil
}

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "Request a mint quote and mint tokens once the invoice is paid",
	ArgsUsage: "<amount>",
	Before:    setupWallet,
	Action:    mint,
}

func mint(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	quote, err := cashew.RequestMintQuote(amount)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice: %v\n\n", quote.Request)
	fmt.Println("waiting for payment...")

	for {
		state, err := cashew.GetMintQuoteState(quote.Quote)
		if err != nil {
			printErr(err)
		}
		if state.State == nut04.Paid {
			break
		}
		time.Sleep(3 * time.Second)
	}

	proofs, err := cashew.Mint(quote.Quote, amount)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("minted %v\n", cashew.Unit().FormatAmount(proofs.Amount()))
	return nil
}

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Generate a token to send",
	ArgsUsage: "<amount>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "legacy",
			Usage: "emit a V3 token",
		},
	},
	Before: setupWallet,
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	proofs, err := cashew.Send(amount)
	if err != nil {
		printErr(err)
	}

	var tokenString string
	if ctx.Bool("legacy") {
		token := cashu.NewTokenV3(proofs, cashew.CurrentMint(), cashew.Unit(), true)
		tokenString, err = token.Serialize()
	} else {
		var token cashu.TokenV4
		token, err = cashu.NewTokenV4(proofs, cashew.CurrentMint(), cashew.Unit(), true)
		if err == nil {
			tokenString, err = token.Serialize()
		}
	}
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v\n", tokenString)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Redeem a token",
	ArgsUsage: "<token>",
	Before:    setupWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a token to receive"))
	}

	proofs, err := cashew.Receive(args.First())
	if err != nil {
		printErr(err)
	}

	fmt.Printf("received %v\n", cashew.Unit().FormatAmount(proofs.Amount()))
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a bolt11 invoice or a lightning address",
	ArgsUsage: "<invoice | address amount>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "comment",
			Usage: "comment to attach when paying a lightning address",
		},
	},
	Before: setupWallet,
	Action: pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an invoice or a lightning address and amount"))
	}

	var quoteId string
	if args.Len() >= 2 {
		amount, err := strconv.ParseUint(args.Get(1), 10, 64)
		if err != nil {
			printErr(errors.New("invalid amount"))
		}
		quote, err := cashew.RequestMeltQuoteToLightningAddress(args.First(), amount, ctx.String("comment"))
		if err != nil {
			printErr(err)
		}
		quoteId = quote.Quote
	} else {
		quote, err := cashew.RequestMeltQuote(args.First())
		if err != nil {
			printErr(err)
		}
		quoteId = quote.Quote
	}

	quote, err := cashew.GetMeltQuoteState(quoteId)
	if err != nil {
		printErr(err)
	}

	inputs, err := cashew.ProofsForAmount(quote.Amount + quote.FeeReserve)
	if err != nil {
		printErr(err)
	}

	result, err := cashew.Melt(quoteId, inputs)
	if err != nil {
		printErr(err)
	}

	if result.Paid {
		fmt.Printf("paid. preimage: %v\n", result.Preimage)
		if change := result.Change.Amount(); change > 0 {
			fmt.Printf("change: %v\n", cashew.Unit().FormatAmount(change))
		}
	} else {
		fmt.Println("payment is pending")
	}
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "Show the wallet recovery mnemonic",
	Before: setupWallet,
	Action: func(ctx *cli.Context) error {
		fmt.Printf("%v\n", cashew.Mnemonic())
		return nil
	},
}

var restoreCmd = &cli.Command{
	Name:  "restore",
	Usage: "Recover proofs and counters from a mnemonic",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "only-current-unit",
			Usage: "restore only this wallet's unit. Risks counter reuse for other units, see docs",
		},
	},
	Before: setupWallet,
	Action: restore,
}

func restore(ctx *cli.Context) error {
	opts := wallet.DefaultRestoreOptions()
	if ctx.Bool("only-current-unit") {
		opts.AllUnits = false
	}

	proofs, err := cashew.Restore(opts)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("restored %v\n", cashew.Unit().FormatAmount(proofs.Amount()))
	return nil
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	Usage:     "Decode a token and print its contents",
	ArgsUsage: "<token>",
	Action:    decode,
}

func decode(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a token to decode"))
	}

	token, err := cashu.DecodeToken(args.First())
	if err != nil {
		printErr(err)
	}

	fmt.Printf("mint: %v\n", token.Mint())
	fmt.Printf("amount: %v\n", token.Amount())
	for _, proof := range token.Proofs() {
		fmt.Printf("  %v  keyset %v  secret %v\n", proof.Amount, proof.Id, proof.Secret)
	}
	return nil
}

func printErr(msg error) {
	fmt.Fprintln(os.Stderr, msg.Error())
	os.Exit(1)
}
