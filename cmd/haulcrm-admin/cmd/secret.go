package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/haulcrm/integrations/pkg/crypto"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Work with webhook signing secrets",
}

var secretGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new webhook signing secret",
	RunE:  runSecretGenerate,
}

var secretSignCmd = &cobra.Command{
	Use:   "sign SECRET [FILE]",
	Short: "Compute the signature header for a payload",
	Long: `Computes the signature the service would attach to the given payload.
Reads the payload from FILE, or from stdin when FILE is omitted. Useful
for verifying receiver implementations.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSecretSign,
}

var secretGenerateKeyCmd = &cobra.Command{
	Use:   "generate-key",
	Short: "Generate a hex AES-256 key for CONFIG_ENCRYPTION_KEY",
	RunE:  runSecretGenerateKey,
}

func init() {
	secretCmd.AddCommand(secretGenerateCmd)
	secretCmd.AddCommand(secretGenerateKeyCmd)
	secretCmd.AddCommand(secretSignCmd)
}

func runSecretGenerate(cmd *cobra.Command, args []string) error {
	secret, err := crypto.GenerateSecret()
	if err != nil {
		return err
	}
	fmt.Println(secret)
	return nil
}

func runSecretGenerateKey(cmd *cobra.Command, args []string) error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	fmt.Println(hex.EncodeToString(key))
	return nil
}

func runSecretSign(cmd *cobra.Command, args []string) error {
	var payload []byte
	var err error
	if len(args) == 2 {
		payload, err = os.ReadFile(args[1])
	} else {
		payload, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	fmt.Println(crypto.Sign(args[0], payload))
	return nil
}
