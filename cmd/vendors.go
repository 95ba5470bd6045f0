package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/furnishly/catalog-cli/internal/vendor"
)

var vendorsStored bool

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "List vendors",
	Long:  "Lists the registered vendor scrape profiles, or with --stored the vendors currently present in the catalog store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !vendorsStored {
			reg := vendor.Defaults()
			for _, p := range reg.All() {
				fmt.Printf("%-22s %s (%d seeds)\n", p.Name, p.BaseURL, len(p.Seeds))
			}
			return nil
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		names, err := st.Vendors(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	vendorsCmd.Flags().BoolVar(&vendorsStored, "stored", false, "list vendors present in the store instead of registered profiles")
	rootCmd.AddCommand(vendorsCmd)
}
