package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"canon-mcp/internal/infra/config"
)

func newEncryptCmd() *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for camera.password in config.yaml",
		Long: `Encrypts a value with the config passphrase and prints it with the
"enc:" prefix. The passphrase comes from --key or CANONMCP_CONFIG_KEY.
Without an argument the value is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				passphrase = os.Getenv("CANONMCP_CONFIG_KEY")
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase required: set CANONMCP_CONFIG_KEY or --key")
			}
			value, err := secretValue(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "key", "", "encryption passphrase")
	return cmd
}

func secretValue(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read value: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty value")
	}
	return line, nil
}
