package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/autopeer-io/mavbridge/pkg/app"
)

func newPortsCommand() *cobra.Command {
	var a *app.App
	a = app.NewApp(
		"ports",
		"List serial ports usable as serial: endpoints",
		app.WithNoConfig(),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(func() error {
			ports, err := enumerator.GetDetailedPortsList()
			if err != nil {
				return fmt.Errorf("failed to enumerate serial ports: %w", err)
			}

			out := a.Command().OutOrStdout()
			if len(ports) == 0 {
				_, err := fmt.Fprintln(out, "No serial ports found")
				return err
			}

			tbl := app.NewTable("PORT", "USB", "VID", "PID", "SERIAL", "PRODUCT")
			for _, p := range ports {
				tbl.AddRow(p.Name, p.IsUSB, p.VID, p.PID, p.SerialNumber, p.Product)
			}
			_, err = tbl.WriteTo(out)
			return err
		}),
	)
	return a.Command()
}
