package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/rlsbridge/pkg/identity"
)

func newMapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "map <external-id>",
		Short: "Print the internal user id for an identity provider subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.Map(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id.String())
			return err
		},
	}
}
