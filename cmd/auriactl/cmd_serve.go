package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auria.dev/core/internal/node"
	"auria.dev/core/model"
)

const maxRequestLine = 16 << 20

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the configured node, reading execution requests from stdin",
		Long: `serve opens the node described by --config, reloads its hardware
profiles on change, exposes Prometheus metrics on metrics.listen, and runs
one execution per JSON request line on stdin. Each line of output is either
an execution response or a coded error:

  {"expert":"E1","tier":"standard","inputs":"aGVsbG8="}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			n, err := node.Open(cfg, node.Options{Executor: node.Echo, Registerer: reg, KeyDir: c.keyDir, Logger: c.logger})
			if err != nil {
				return err
			}
			defer n.Close()
			if err := n.Watch(); err != nil {
				return err
			}

			if cfg.Metrics.Listen != "" {
				stop, err := serveMetrics(cfg.Metrics.Listen, reg, c.logger)
				if err != nil {
					return err
				}
				defer stop()
			}
			return serveRequests(cmd.Context(), n, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (stop func(), err error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", lis.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// serveRequests runs one execution per input line until EOF or ctx ends.
// The node id defaults to the configured node.
func serveRequests(ctx context.Context, n *node.Node, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxRequestLine)
	enc := json.NewEncoder(out)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req model.ExecutionRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if err := enc.Encode(model.NewError(model.ErrInvalidRequest, err.Error())); err != nil {
				return err
			}
			continue
		}
		if req.Node == "" {
			req.Node = string(n.Config.Node.ID)
		}
		resp, err := model.Execute(ctx, n.Engine, req)
		if err != nil {
			if err := enc.Encode(err); err != nil {
				return err
			}
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return sc.Err()
}
