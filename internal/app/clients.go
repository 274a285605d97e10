package app

import (
	"fmt"

	"github.com/yungbote/adforge-backend/internal/platform/gcp"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/platform/render"
	"github.com/yungbote/adforge-backend/internal/realtime/bus"
)

type Clients struct {
	Bus      bus.Bus
	Bucket   gcp.BucketService
	Renderer render.Renderer
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis
	var b bus.Bus
	if cfg.Redis.Addr != "" {
		rb, err := bus.NewRedisBus(log, bus.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init redis bus: %w", err)
		}
		b = rb
	} else {
		log.Warn("REDIS_ADDR not set; row events stay in-process")
		b = bus.NewMemoryBus()
	}

	out := Clients{Bus: b}
	renderer, err := wireRenderer(log, cfg.Renderer, &out)
	if err != nil {
		out.Close()
		return Clients{}, err
	}
	out.Renderer = renderer
	return out, nil
}

func wireRenderer(log *logger.Logger, cfg RendererConfig, c *Clients) (render.Renderer, error) {
	switch cfg.Mode {
	case "http":
		r, err := render.NewHTTPRenderer(log, render.HTTPConfig{
			BaseURL:     cfg.ServiceURL,
			Token:       cfg.ServiceToken,
			Timeout:     cfg.HTTPTimeout,
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.Backoff,
		})
		if err != nil {
			return nil, fmt.Errorf("init render client: %w", err)
		}
		return r, nil
	case "", "preview":
		var store render.ObjectStore
		if cfg.PreviewBucket != "" {
			bucket, err := gcp.NewBucketService(log, gcp.BucketConfig{
				Name:         cfg.PreviewBucket,
				CDNDomain:    cfg.PreviewCDNDomain,
				EmulatorHost: cfg.StorageEmulator,
			})
			if err != nil {
				return nil, fmt.Errorf("init preview bucket: %w", err)
			}
			c.Bucket = bucket
			store = render.BucketStore{Bucket: bucket}
		} else {
			store = render.DirStore{Dir: cfg.PreviewOutputDir, BaseURL: cfg.PreviewBaseURL}
		}
		r, err := render.NewPreviewRenderer(log, store, render.PreviewConfig{
			Width:    cfg.PreviewWidth,
			Height:   cfg.PreviewHeight,
			FontPath: cfg.PreviewFont,
			FontSize: cfg.PreviewFontSize,
		})
		if err != nil {
			return nil, fmt.Errorf("init preview renderer: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown RENDERER_MODE %q", cfg.Mode)
	}
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Bucket != nil {
		_ = c.Bucket.Close()
	}
}
