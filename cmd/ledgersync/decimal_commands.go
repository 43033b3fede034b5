package main

import (
	"encoding/hex"
	"fmt"

	"github.com/brojonat/ledgersync/service/decimal"
	shopspring "github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func decimalCommands() *cli.Command {
	return &cli.Command{
		Name:  "decimal",
		Usage: "Encode and decode on-chain fixed-point decimals",
		Subcommands: []*cli.Command{
			encodeDecimalCommand(),
			decodeDecimalCommand(),
		},
	}
}

type decimalOutput struct {
	Value    string `json:"value"`
	Mantissa string `json:"mantissa"`
	Scale    uint32 `json:"scale"`
	Wire     string `json:"wire"`
}

func newDecimalOutput(d decimal.Decimal) (*decimalOutput, error) {
	wire, err := d.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode decimal: %w", err)
	}
	return &decimalOutput{
		Value:    d.String(),
		Mantissa: d.Mantissa().String(),
		Scale:    d.Scale(),
		Wire:     hex.EncodeToString(wire),
	}, nil
}

func encodeDecimalCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Convert a decimal number to its 20-byte wire form",
		ArgsUsage: "<value>",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "max-scale",
				Usage: "Maximum fractional digits kept after rounding",
				Value: decimal.RoundPlaces,
			},
			&cli.BoolFlag{
				Name:  "exact",
				Usage: "Fail instead of rounding when the value has too many fractional digits",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: value")
			}

			value, err := shopspring.NewFromString(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid decimal %q: %w", c.Args().First(), err)
			}

			var d decimal.Decimal
			if c.Bool("exact") {
				d, err = decimal.FromDecimalExact(value)
			} else {
				d, err = decimal.FromDecimal(value, uint32(c.Uint("max-scale")))
			}
			if err != nil {
				return err
			}

			out, err := newDecimalOutput(d)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(out)
			}

			fmt.Printf("Value:    %s\n", out.Value)
			fmt.Printf("Mantissa: %s\n", out.Mantissa)
			fmt.Printf("Scale:    %d\n", out.Scale)
			fmt.Printf("Wire:     %s\n", out.Wire)
			return nil
		},
	}
}

func decodeDecimalCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a decimal from hex encoded bytes",
		ArgsUsage: "<hex>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Byte offset of the decimal within the input",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: hex bytes")
			}

			raw, err := hex.DecodeString(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid hex input: %w", err)
			}

			d, err := decimal.Decode(raw, c.Int("offset"))
			if err != nil {
				return err
			}

			out, err := newDecimalOutput(d)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(out)
			}

			fmt.Printf("Value:    %s\n", out.Value)
			fmt.Printf("Mantissa: %s\n", out.Mantissa)
			fmt.Printf("Scale:    %d\n", out.Scale)
			return nil
		},
	}
}
