package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/roffe/canbridge/pkg/uds"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(decodeCmd)
}

var decodeCmd = &cobra.Command{
	Use:   "decode <" + strings.Join(telemetry.Decoders(), "|") + "|record> <hex>",
	Short: "decode an ECU response or a downstream frame payload",
	Long: `decode runs a decoder over a reassembled read-data-by-identifier response
(starting with 62) or, given "record", decodes a payload sent downstream.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseHex(args[1])
		if err != nil {
			return err
		}
		var rec telemetry.Record
		if args[0] == "record" {
			rec, err = telemetry.DecodeRecord(data)
		} else {
			rec, err = decodeResponse(args[0], data)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rec)
		return nil
	},
}

func decodeResponse(decoder string, payload []byte) (telemetry.Record, error) {
	resp, err := uds.ParseResponse(payload)
	if err != nil {
		return nil, err
	}
	return telemetry.Decode(decoder, resp.Data)
}

// parseHex accepts "62 01 01", "620101" and "62:01:01"
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "", "\n", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
