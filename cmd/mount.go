// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/jacobsa/syncutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/objfuse/ovfs/cfg"
	"github.com/objfuse/ovfs/internal/fs"
	"github.com/objfuse/ovfs/internal/fuseproto"
	"github.com/objfuse/ovfs/internal/logger"
	"github.com/objfuse/ovfs/internal/metrics"
	"github.com/objfuse/ovfs/internal/storage/gcsbackend"
	"github.com/objfuse/ovfs/internal/storage/memstore"
	"github.com/objfuse/ovfs/internal/storage/s3backend"
	"github.com/objfuse/ovfs/internal/storageapi"
	"github.com/objfuse/ovfs/internal/transport"
	"github.com/objfuse/ovfs/internal/vhostuser"
	"github.com/objfuse/ovfs/internal/vring"
)

// openBackend dispatches on the backend URI's scheme: gcs://bucket,
// s3://bucket, or mem:// for the in-process test double.
func openBackend(ctx context.Context, uri string) (storageapi.Backend, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("backend-uri %q: expected scheme://bucket", uri)
	}

	switch scheme {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsbackend.New(client, rest), nil

	case "s3":
		sess, err := session.NewSession(aws.NewConfig())
		if err != nil {
			return nil, fmt.Errorf("s3 session: %w", err)
		}
		return s3backend.New(sess, rest), nil

	case "mem":
		return memstore.NewDefault(), nil

	default:
		return nil, fmt.Errorf("backend-uri %q: unsupported scheme %q (want gcs, s3, or mem)", uri, scheme)
	}
}

// runServe opens the configured backend, builds a Filesystem over it,
// and serves vhost-user connections on c.Mount.SocketPath until ctx is
// canceled.
func runServe(ctx context.Context, c *cfg.Config) error {
	if err := logger.InitLogFile(c.Logging); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	if c.Debug.ExitOnInvariantViolation {
		syncutil.EnableInvariantChecking()
	}

	backend, err := openBackend(ctx, c.Mount.BackendURI)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()

	otelExporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("init otel prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(otelExporter)))

	metricsHandle, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if c.Mount.MetricsAddr != "" {
		serveMetrics(c.Mount.MetricsAddr, reg)
	}

	fsys := fs.New(fs.Config{
		Backend:        backend,
		EntryTTL:       time.Duration(c.FileSystem.EntryTimeoutSecs * float64(time.Second)),
		WorkerPoolSize: c.Mount.WorkerPoolSize,
		Uid:            resolveID(c.FileSystem.Uid, fuseproto.DefaultUid),
		Gid:            resolveID(c.FileSystem.Gid, fuseproto.DefaultGid),
		DirMode:        fuseproto.DefaultDirMode&^0o777 | uint32(c.FileSystem.DirMode),
		FileMode:       fuseproto.DefaultFileMode&^0o777 | uint32(c.FileSystem.FileMode),
		Metrics:        metricsHandle,
	})

	ln, err := vhostuser.Listen(string(c.Mount.SocketPath))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.Mount.SocketPath, err)
	}
	defer ln.Close()

	logger.Infof("ovfs: serving %s on %s", c.Mount.BackendURI, c.Mount.SocketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		sess, err := vhostuser.Accept(ln)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go serveSession(sess, fsys)
	}
}

// serveMetrics starts a best-effort Prometheus HTTP endpoint in the
// background; a failure to bind is logged, not fatal, since metrics
// scraping is never required for the filesystem to function.
func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warnf("metrics: listen on %s: %v", addr, err)
		}
	}()
}

func resolveID(configured int, fallback uint32) uint32 {
	if configured < 0 {
		return fallback
	}
	return uint32(configured)
}

// serveSession wires every vring this driver enables to a vring.Ring
// draining against fsys.Dispatch, then blocks on the control-plane
// message loop until the driver disconnects.
func serveSession(sess *vhostuser.Session, fsys *fs.Filesystem) {
	defer sess.Close()

	sess.OnVringEnabled = func(vcfg vhostuser.VringConfig, mem *vhostuser.MemoryTable) {
		r := vring.New(vcfg, mem, dispatchHandler(fsys))
		go func() {
			if err := r.Run(); err != nil {
				logger.Warnf("vhostuser[%s]: vring %d stopped: %v", sess.SessionID, vcfg.Index, err)
			}
		}()
	}

	if err := sess.Serve(); err != nil {
		logger.Warnf("vhostuser[%s]: session ended: %v", sess.SessionID, err)
	}
}

// dispatchHandler adapts fsys.Dispatch to vring.Handler by decoding the
// InHeader that leads every descriptor chain's readable portion before
// routing the rest to the filesystem.
func dispatchHandler(fsys *fs.Filesystem) vring.Handler {
	return func(r *transport.Reader, w *transport.Writer) (uint64, error) {
		hdrBuf := make([]byte, fuseproto.InHeaderSize)
		if err := r.ReadExact(hdrBuf); err != nil {
			return 0, fmt.Errorf("decode request header: %w", err)
		}
		return fsys.Dispatch(fuseproto.DecodeInHeader(hdrBuf), r, w)
	}
}
