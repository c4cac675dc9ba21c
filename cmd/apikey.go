package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/gateway"
)

var apikeyDBPath string

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage extension API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create [label]",
	Short: "Issue a new API key",
	Long:  `Issue a new API key. The full key is printed exactly once; only its hash is stored.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := ""
		if len(args) > 0 {
			label = args[0]
		}

		store, err := gateway.NewKeyStore(apikeyDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		apiKey, err := store.CreateKey(label)
		if err != nil {
			return err
		}

		fmt.Println(apiKey)
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := gateway.NewKeyStore(apikeyDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		keys, err := store.ListKeys()
		if err != nil {
			return err
		}

		for _, key := range keys {
			status := "active"
			if key.Revoked {
				status = "revoked"
			}
			fmt.Printf("%s\t%s\t%s\t%s\n",
				key.KeyID, status, key.CreatedAt.Format("2006-01-02 15:04"), key.Label)
		}
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := gateway.NewKeyStore(apikeyDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.RevokeKey(args[0]); err != nil {
			return err
		}

		fmt.Printf("Key %s revoked\n", args[0])
		return nil
	},
}

var apikeyAdminCmd = &cobra.Command{
	Use:   "admin <username> <password>",
	Short: "Create an admin user for the REST API",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := gateway.NewKeyStore(apikeyDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.CreateAdmin(args[0], args[1]); err != nil {
			return err
		}

		fmt.Printf("Admin %s created\n", args[0])
		return nil
	},
}

func init() {
	apikeyCmd.PersistentFlags().StringVarP(&apikeyDBPath, "database", "d", "gateway.db", "path to the gateway database")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
	apikeyCmd.AddCommand(apikeyAdminCmd)
}
