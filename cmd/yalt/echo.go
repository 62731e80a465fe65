package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yalt-io/yalt/internal/echoserver"
)

func newEchoCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "echo [flags]",
		Short:         "Run local TCP echo listeners to aim a load test at",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	addrs := cmd.Flags().StringArray("addr", []string{"127.0.0.1:9000"}, "Listen address (repeatable)")
	cmd.SetOut(stdout)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		servers := make([]*echoserver.Server, 0, len(*addrs))
		defer func() {
			for _, srv := range servers {
				fmt.Fprintf(stdout, "%s: %d connections, %d bytes\n", srv.Addr(), srv.Connections(), srv.Bytes())
				_ = srv.Close()
			}
		}()
		for _, addr := range *addrs {
			srv, err := echoserver.Listen(addr)
			if err != nil {
				return fmt.Errorf("echo %s: %w", addr, err)
			}
			servers = append(servers, srv)
			fmt.Fprintf(stdout, "echo listening on %s\n", srv.Addr())
		}
		<-cmd.Context().Done()
		return nil
	}
	return cmd
}

func runEcho(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := newEchoCommand(stdout)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
