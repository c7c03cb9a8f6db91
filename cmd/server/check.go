package main

import (
	"errors"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/navi/metabase-mcp/internal/metabase"
)

var errCheckFailed = errors.New("connection check failed")

func newCheckCmd(opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the configured Metabase instance",
		Long: `The check command resolves the configured credentials, authenticates and
fetches the current user, printing who the server would act as.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				pterm.Error.Println(err)
				return errCheckFailed
			}
			defer client.Close()

			spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + client.BaseURL())
			status := client.TestConnection(cmd.Context())
			if !status.Success {
				spinner.Fail("Connection failed")
				renderFailure(status)
				return errCheckFailed
			}
			spinner.Success("Connected")

			return pterm.DefaultTable.WithData(pterm.TableData{
				{"URL", client.BaseURL()},
				{"Auth method", string(client.AuthMethod())},
				{"User", status.User},
				{"Email", status.Email},
				{"Superuser", strconv.FormatBool(status.IsSuperuser)},
			}).Render()
		},
	}
}

func renderFailure(s metabase.ConnectionStatus) {
	pterm.Error.Println(s.Error)
	if s.StatusCode != 0 {
		pterm.Println("   HTTP status:", s.StatusCode)
	}
}
