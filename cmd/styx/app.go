package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jrhy/styx"
	"github.com/jrhy/styx/mapped"
	"github.com/jrhy/styx/persist/file"
	s3cell "github.com/jrhy/styx/persist/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	cfg     Config
	log     *zap.SugaredLogger
	reg     *prometheus.Registry
	metrics *styx.Metrics
	cell    styx.SharedValue
	store   *mapped.Store
	closers []func() error
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	switch level {
	case "", "off":
		return zap.NewNop().Sugar(), nil
	case "debug":
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return l.Sugar(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func initApp(c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, reg: prometheus.NewRegistry()}
	a.metrics = styx.NewMetrics(a.reg)
	a.closers = append(a.closers, func() error {
		log.Sync()
		return nil
	})
	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open() error {
	ser, err := a.cfg.serializer()
	if err != nil {
		return err
	}
	switch a.cfg.Backend {
	case backendMapped:
		opts := []mapped.Option{
			mapped.WithLogger(a.log),
			mapped.WithMetrics(a.metrics),
		}
		if ser != nil {
			opts = append(opts, mapped.WithSerializer(ser))
		}
		if a.cfg.Poll > 0 {
			opts = append(opts, mapped.WithMonitorTick(a.cfg.Poll))
		}
		s, err := mapped.OpenFile(a.cfg.Path, a.cfg.RegionSize, opts...)
		if err != nil {
			return err
		}
		a.store = s
		a.cell = mapped.NewCell(s)
		a.closers = append(a.closers, s.Close)
	case backendFile:
		opts := []file.Option{
			file.WithLogger(a.log),
			file.WithMetrics(a.metrics),
		}
		if ser != nil {
			opts = append(opts, file.WithSerializer(ser))
		}
		if a.cfg.Poll > 0 {
			opts = append(opts, file.WithPollInterval(a.cfg.Poll))
		}
		a.cell = file.New(a.cfg.Path, opts...)
	case backendS3:
		client, err := a.s3Client()
		if err != nil {
			return err
		}
		opts := []s3cell.Option{
			s3cell.WithLogger(a.log),
			s3cell.WithMetrics(a.metrics),
		}
		if ser != nil {
			opts = append(opts, s3cell.WithSerializer(ser))
		}
		if a.cfg.Poll > 0 {
			opts = append(opts, s3cell.WithPollInterval(a.cfg.Poll))
		}
		a.cell = s3cell.New(client, a.cfg.S3.Bucket, a.cfg.S3.Key, opts...)
	}
	a.log.Debugf("opened %s backend", a.cfg.Backend)
	return nil
}

// s3Client uses the default AWS credential chain. An endpoint switches to
// path-style addressing for S3-compatible servers.
func (a *app) s3Client() (*s3.S3, error) {
	config := aws.Config{}
	if a.cfg.S3.Region != "" {
		config.Region = aws.String(a.cfg.S3.Region)
	}
	if a.cfg.S3.Endpoint != "" {
		config.Endpoint = aws.String(a.cfg.S3.Endpoint)
		config.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            config,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return s3.New(sess), nil
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// signalContext is cancelled on interrupt, so a monitor ends cleanly.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt)
}

// parseValue reads a value in the text encoding. The empty string and
// "null" are the absent value.
func parseValue(s string) (styx.Value, error) {
	if s == "" {
		return nil, nil
	}
	v, err := styx.TextSerializer{}.Deserialize([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("value %q: %w", s, err)
	}
	return v, nil
}

func formatValue(v styx.Value) (string, error) {
	b, err := styx.TextSerializer{}.Serialize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
