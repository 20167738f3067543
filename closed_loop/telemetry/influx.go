package telemetry

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"twinthrust/utils"
)

const TickMeasurement = "twinthrust_tick"

// InfluxConfig selects the InfluxDB server and the fallback file.
type InfluxConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Org        string        `mapstructure:"org"`
	Bucket     string        `mapstructure:"bucket"`
	BackupPath string        `mapstructure:"backup_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// InfluxSink writes one point per tick. When the server does not answer a
// ping at start-up, points go to a gzip line-protocol file instead.
type InfluxSink struct {
	cfg    InfluxConfig
	log    *utils.Logger
	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	backupFile   *os.File
	backupWriter *gzip.Writer

	run     RunInfo
	IsValid bool
}

func NewInfluxSink(cfg InfluxConfig, log *utils.Logger) (*InfluxSink, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	s := &InfluxSink{cfg: cfg, log: log}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InfluxSink) connect() error {
	s.client = influxdb2.NewClientWithOptions(
		s.cfg.URL,
		s.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	running, err := s.client.Ping(ctx)

	if err != nil || !running {
		s.IsValid = false
		s.client.Close()
		s.client = nil
		if s.cfg.BackupPath == "" {
			return fmt.Errorf("influxdb at %s unreachable and no backup path set: %v", s.cfg.URL, err)
		}
		s.log.Warn("InfluxDB at %s unreachable, writing to backup file %s", s.cfg.URL, s.cfg.BackupPath)

		file, err := os.OpenFile(s.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("error creating backup file: %w", err)
		}
		s.backupFile = file
		s.backupWriter = gzip.NewWriter(file)
		return nil
	}

	s.IsValid = true
	if err := s.ensureBucket(); err != nil {
		return err
	}
	s.writer = s.client.WriteAPI(s.cfg.Org, s.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			s.log.Error("Error sending data to InfluxDB: %v", writeErr)
		}
	}(s.writer.Errors())

	s.log.Info("InfluxDB client initialized (%s, bucket %s)", s.cfg.URL, s.cfg.Bucket)
	return nil
}

func (s *InfluxSink) ensureBucket() error {
	ctx := context.Background()
	if _, err := s.client.BucketsAPI().FindBucketByName(ctx, s.cfg.Bucket); err == nil {
		return nil
	}

	org, err := s.client.OrganizationsAPI().FindOrganizationByName(ctx, s.cfg.Org)
	if err != nil {
		return fmt.Errorf("error getting organization %s: %w", s.cfg.Org, err)
	}

	s.log.Info("Bucket %s not found, creating", s.cfg.Bucket)
	rule := domain.RetentionRuleTypeExpire
	_, err = s.client.BucketsAPI().CreateBucketWithName(ctx, org, s.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * 30,
	})
	if err != nil {
		return fmt.Errorf("error creating bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// NewTickPoint builds the point for one tick. The timestamp is the run start
// plus simulated time.
func NewTickPoint(run RunInfo, t TickSample) *influxdb2_write.Point {
	ts := run.StartedAt.Add(time.Duration(t.Time * float64(time.Second)))
	return influxdb2_write.NewPoint(
		TickMeasurement,
		map[string]string{
			"run":  run.ID,
			"seed": fmt.Sprintf("%d", run.Seed),
		},
		map[string]any{
			"tick":     t.Tick,
			"x":        t.State.Position.X,
			"y":        t.State.Position.Y,
			"attitude": t.State.Attitude,
			"u1":       t.Action[0],
			"u2":       t.Action[1],
			"err_x":    t.ErrX,
			"err_y":    t.ErrY,
			"wind_x":   t.Wind.X,
			"wind_y":   t.Wind.Y,
			"target_x": t.Target[0],
			"target_y": t.Target[1],
			"collided": t.Collided,
		},
		ts,
	)
}

func (s *InfluxSink) BeginRun(info RunInfo) error {
	s.run = info
	return nil
}

func (s *InfluxSink) Record(t TickSample) error {
	point := NewTickPoint(s.run, t)
	if s.IsValid {
		s.writer.WritePoint(point)
		return nil
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := s.backupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

func (s *InfluxSink) EndRun(RunSummary) error {
	if s.IsValid {
		s.writer.Flush()
	}
	return nil
}

func (s *InfluxSink) Close() error {
	if s.IsValid {
		s.writer.Flush()
		s.client.Close()
		return nil
	}
	if err := s.backupWriter.Close(); err != nil {
		s.backupFile.Close()
		return fmt.Errorf("close backup writer: %w", err)
	}
	return s.backupFile.Close()
}
