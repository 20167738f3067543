package telemetry

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"twinthrust/utils"
)

// RunRecord is one row per episode.
type RunRecord struct {
	ID                string `gorm:"primaryKey;size:36"`
	Name              string
	Seed              int64
	Mass              float64
	Inertia           float64
	DragCoefficient   float64
	ReferenceArea     float64
	RotorTimeConstant float64
	WindEnabled       bool
	MaxSteadyState    float64
	MaxGust           float64
	GustRate          float64
	Dt                float64
	StartedAt         time.Time
	EndedAt           *time.Time
	Ticks             int
	Crashes           int
}

// TickRecord is one row per simulation tick.
type TickRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	RunID           string `gorm:"index;size:36"`
	Tick            int
	Time            float64
	X               float64
	Y               float64
	VX              float64
	VY              float64
	Attitude        float64
	AngularVelocity float64
	TargetX         float64
	TargetY         float64
	U1              float64
	U2              float64
	ErrX            float64
	ErrY            float64
	WindX           float64
	WindY           float64
	Collided        bool
	Ground          bool
}

const defaultBatchSize = 500

// Recorder stores runs and ticks in a SQLite file through gorm. Ticks are
// buffered and written in batches.
type Recorder struct {
	db        *gorm.DB
	log       *utils.Logger
	batchSize int

	runID string
	buf   []TickRecord
}

// OpenRecorder opens (or creates) the database at path and migrates the schema.
// An empty path uses a private in-memory database.
func OpenRecorder(path string, batchSize int, log *utils.Logger) (*Recorder, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	dsn := path
	if dsn == "" {
		dsn = "file::memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        batchSize,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open run database %q: %w", path, err)
	}

	if path == "" {
		// every pooled connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql interface: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if err := db.AutoMigrate(&RunRecord{}, &TickRecord{}); err != nil {
		return nil, fmt.Errorf("migrate run database: %w", err)
	}

	log.Info("Recording runs to %s", dsn)
	return &Recorder{db: db, log: log, batchSize: batchSize}, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func (r *Recorder) BeginRun(info RunInfo) error {
	if err := r.Flush(); err != nil {
		return err
	}
	if info.ID == "" {
		info.ID = NewRunID()
	}
	run := RunRecord{
		ID:                info.ID,
		Name:              info.Name,
		Seed:              int64(info.Seed),
		Mass:              info.Params.Mass,
		Inertia:           info.Params.Inertia,
		DragCoefficient:   info.Params.DragCoefficient,
		ReferenceArea:     info.Params.ReferenceArea,
		RotorTimeConstant: info.Params.RotorTimeConstant,
		WindEnabled:       info.WindEnabled,
		MaxSteadyState:    info.Wind.MaxSteadyState,
		MaxGust:           info.Wind.MaxGust,
		GustRate:          info.Wind.GustRate,
		Dt:                info.Dt,
		StartedAt:         info.StartedAt,
	}
	if err := r.db.Create(&run).Error; err != nil {
		return fmt.Errorf("create run %s: %w", info.ID, err)
	}
	r.runID = info.ID
	r.log.Debug("Run %s started (seed %d)", info.ID, info.Seed)
	return nil
}

func (r *Recorder) Record(s TickSample) error {
	if r.runID == "" {
		return fmt.Errorf("record tick %d: no run started", s.Tick)
	}
	r.buf = append(r.buf, TickRecord{
		RunID:           r.runID,
		Tick:            s.Tick,
		Time:            s.Time,
		X:               s.State.Position.X,
		Y:               s.State.Position.Y,
		VX:              s.State.Velocity.X,
		VY:              s.State.Velocity.Y,
		Attitude:        s.State.Attitude,
		AngularVelocity: s.State.AngularVelocity,
		TargetX:         s.Target[0],
		TargetY:         s.Target[1],
		U1:              s.Action[0],
		U2:              s.Action[1],
		ErrX:            s.ErrX,
		ErrY:            s.ErrY,
		WindX:           s.Wind.X,
		WindY:           s.Wind.Y,
		Collided:        s.Collided,
		Ground:          s.Ground,
	})
	if len(r.buf) >= r.batchSize {
		return r.Flush()
	}
	return nil
}

// Flush writes buffered ticks.
func (r *Recorder) Flush() error {
	if len(r.buf) == 0 {
		return nil
	}
	if err := r.db.CreateInBatches(r.buf, r.batchSize).Error; err != nil {
		return fmt.Errorf("write %d ticks: %w", len(r.buf), err)
	}
	r.log.Trace("Flushed %d ticks for run %s", len(r.buf), r.runID)
	r.buf = r.buf[:0]
	return nil
}

func (r *Recorder) EndRun(sum RunSummary) error {
	if r.runID == "" {
		return nil
	}
	if err := r.Flush(); err != nil {
		return err
	}
	err := r.db.Model(&RunRecord{}).Where("id = ?", r.runID).Updates(map[string]any{
		"ended_at": sum.EndedAt,
		"ticks":    sum.Ticks,
		"crashes":  sum.Crashes,
	}).Error
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.runID, err)
	}
	r.runID = ""
	return nil
}

func (r *Recorder) Close() error {
	if err := r.Flush(); err != nil {
		return err
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

// Runs lists recorded runs, oldest first.
func (r *Recorder) Runs() ([]RunRecord, error) {
	var runs []RunRecord
	err := r.db.Order("started_at").Find(&runs).Error
	return runs, err
}

// Ticks returns the stored ticks of one run in order.
func (r *Recorder) Ticks(runID string) ([]TickRecord, error) {
	var ticks []TickRecord
	err := r.db.Where("run_id = ?", runID).Order("tick").Find(&ticks).Error
	return ticks, err
}
