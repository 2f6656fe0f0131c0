// ctrserver 启动 CTR 档位推理 HTTP 服务。
//
// 配置文件路径取自 -config 参数或环境变量 CTRKIT_CONFIG；均未设置且默认文件不存在时使用内置默认配置。
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rushteam/ctrkit/api"
	"github.com/rushteam/ctrkit/config"
	_ "github.com/rushteam/ctrkit/config/builders"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/encoder"
	"github.com/rushteam/ctrkit/feast"
	"github.com/rushteam/ctrkit/feature"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/nn"
	"github.com/rushteam/ctrkit/pkg/dsl"
	"github.com/rushteam/ctrkit/pkg/logger"
	"github.com/rushteam/ctrkit/service"
	"github.com/rushteam/ctrkit/store"
)

const defaultConfigPath = "ctrkit.yaml"

func main() {
	path := flag.String("config", os.Getenv("CTRKIT_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := loadConfig(*path)
	if err != nil {
		logger.Error().Err(err).Msg("load config")
		os.Exit(1)
	}
	logger.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, handlerOpts, err := build(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer svc.Close()

	handlerOpts = append(handlerOpts, api.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes))
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(api.NewHandler(svc, handlerOpts...)),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	health := svc.Health(ctx)
	logger.Info().Str("addr", cfg.HTTP.Addr).Str("status", health.Status).Str("checkpoint", health.CheckpointVersion).Msg("ctrserver listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server")
		os.Exit(1)
	}
	logger.Info().Msg("ctrserver stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			cfg := config.Default()
			return &cfg, cfg.Validate()
		}
		path = defaultConfigPath
	}
	return config.LoadFromYAML(path)
}

// build 组装模型、检查点、缓存、准入规则与频道嵌入。
// CONFIGURATION 错误在这里终止启动；缺失的检查点只会让模型降级。
func build(ctx context.Context, cfg *config.Config) (*service.InferenceService, []api.HandlerOption, error) {
	backbones, backboneCloser, err := config.BuildBackbones(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	m, err := model.New(model.Config{
		ImageVariant: cfg.Model.ImageVariant,
		HiddenWidths: cfg.Model.HiddenWidths,
		NumClasses:   cfg.Model.NumClasses,
		Seed:         cfg.Model.Seed,
	}, backbones)
	if err != nil {
		closeQuietly(backboneCloser)
		return nil, nil, err
	}

	ckStore, err := store.New(cfg.Checkpoint.Store)
	if err != nil {
		closeQuietly(backboneCloser)
		return nil, nil, err
	}
	if err := model.LoadFromStore(ctx, m, ckStore, cfg.Checkpoint.Key, cfg.Checkpoint.Require); err != nil {
		closeQuietly(backboneCloser, ckStore)
		return nil, nil, err
	}

	rules, err := dsl.Compile(cfg.Rules)
	if err != nil {
		closeQuietly(backboneCloser, ckStore)
		return nil, nil, err
	}

	bounds := cfg.Features.Bounds
	if src := cfg.Features.BoundsSource; src != "" {
		if bounds, err = feature.LoadBounds(ctx, src); err != nil {
			closeQuietly(backboneCloser, ckStore)
			return nil, nil, err
		}
		logger.Ctx(ctx).Info().Str("source", src).Msg("normalization bounds loaded")
	}

	opts := []service.Option{
		service.WithPreprocessor(feature.NewPreprocessor(bounds, cfg.Features.StrictVideoLength)),
		service.WithRules(rules),
		service.WithMaxConcurrent(cfg.Service.MaxConcurrent),
		service.WithSerialize(cfg.Service.Serialize),
		service.WithRequestTimeout(cfg.Service.RequestTimeout),
		service.WithCloser(backboneCloser),
		service.WithCloser(ckStore),
	}
	if p, ok := backboneCloser.(interface{ Ping(context.Context) error }); ok {
		opts = append(opts, service.WithHealthCheck(p.Ping))
	}
	if cfg.Service.Cache.Enabled {
		cache, err := store.New(cfg.Service.Cache.Store)
		if err != nil {
			closeQuietly(backboneCloser, ckStore)
			return nil, nil, err
		}
		opts = append(opts, service.WithCache(cache, cfg.Service.Cache.TTL))
	}

	var handlerOpts []api.HandlerOption
	if cfg.Channel.Enabled {
		embedder, client, err := buildChannelEmbedder(ctx, cfg, ckStore)
		if err != nil {
			closeQuietly(backboneCloser, ckStore)
			return nil, nil, err
		}
		opts = append(opts, service.WithCloser(client))
		handlerOpts = append(handlerOpts, api.WithChannelEmbedder(embedder))
	}
	return service.New(m, opts...), handlerOpts, nil
}

func buildChannelEmbedder(ctx context.Context, cfg *config.Config, ckStore core.Store) (*service.ChannelEmbedder, io.Closer, error) {
	fc := cfg.Channel.Feast
	feastOpts := []feast.ClientOption{feast.WithTimeout(fc.Timeout)}
	if fc.Token != "" {
		feastOpts = append(feastOpts, feast.WithStaticToken(fc.Token))
	}
	client, err := feast.NewGrpcClient(fc.Host, fc.Port, fc.Project, feastOpts...)
	if err != nil {
		return nil, nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeConfiguration, err, "feast client")
	}
	enc, err := encoder.NewChannelMetadataEncoder(cfg.Channel.NumNiches, cfg.Channel.NumLanguages, cfg.Channel.EmbedDim,
		nn.NewInitializer(cfg.Model.Seed+1))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	embedder := service.NewChannelEmbedder(feast.NewChannelSource(client, cfg.Channel.Refs, fc.Project), enc)

	log := logger.Ctx(ctx)
	if blob, err := ckStore.Get(ctx, cfg.Checkpoint.Key); err == nil {
		ck, err := model.DecodeCheckpoint(blob)
		if err == nil {
			err = embedder.LoadCheckpoint(ck)
		}
		if err != nil {
			log.Warn().Err(err).Msg("channel encoder weights not loaded, embeddings are untrained")
		}
	}
	return embedder, client, nil
}

func closeQuietly(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}
