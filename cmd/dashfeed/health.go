package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/tangkapin/dashfeed/internal/relay"
	"github.com/tangkapin/dashfeed/internal/ui"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the relay's gRPC health service",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		service, _ := cmd.Flags().GetString("service")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if addr == "" {
			addr = dialAddr(cfg.GRPCAddr)
		}

		opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
		if cfg.AuthToken != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(bearerTokenInterceptor(cfg.AuthToken)))
		}
		conn, err := grpc.NewClient(addr, opts...)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", addr, err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		status := resp.GetStatus()
		if jsonOutput {
			if err := printJSON(map[string]string{"addr": addr, "service": service, "status": status.String()}); err != nil {
				return err
			}
		} else if status == healthpb.HealthCheckResponse_SERVING {
			fmt.Printf("Health: %s\n", ui.RenderOK(status.String()))
		} else {
			fmt.Printf("Health: %s\n", ui.RenderCritical(status.String()))
		}

		if status != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("addr", "", "relay gRPC address (default: derived from DASHFEED_GRPC_ADDR)")
	healthCmd.Flags().String("service", relay.ServiceName, "service name to check (empty for the server as a whole)")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "check timeout")
}

// bearerTokenInterceptor attaches a Bearer token to every outgoing call.
func bearerTokenInterceptor(token string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// dialAddr turns a listen address such as ":9090" into one a client can dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
