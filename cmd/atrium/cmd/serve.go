package cmd

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/httpapi"
	"github.com/Aman-CERP/atrium/internal/service"
)

func newServeCmd(st *state) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the JSON API (status, verify, search, build, repair, uploads,
pack installs and jobs with SSE streams) plus /healthz and /metrics.

The address defaults to server.http_addr (ATRIUM_HTTP_ADDR).`,
		Annotations: map[string]string{logsToStderr: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = st.cfg.Server.HTTPAddr
			}
			if !st.debug {
				gin.SetMode(gin.ReleaseMode)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			return st.withService(cmd, reg, func(ctx context.Context, svc *service.Service) error {
				srv := httpapi.New(svc, httpapi.Options{
					Logger:         st.logger,
					Registry:       reg,
					MaxUploadBytes: st.cfg.MaxUploadBytes(),
				})
				st.out(cmd).Successf("Serving %s on http://%s", st.cfg.Library.IndexRoot, addr)
				return srv.ListenAndServe(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.http_addr)")
	return cmd
}

// withService runs fn against a service whose metrics go to reg.
func (st *state) withService(cmd *cobra.Command, reg prometheus.Registerer, fn func(ctx context.Context, svc *service.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := service.New(ctx, service.Options{Config: st.cfg, Logger: st.logger, Registerer: reg})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, svc)
}
