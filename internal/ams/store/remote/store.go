package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

const DefaultTimeout = 10 * time.Second

// Store is the cloud RemoteStore. Every call runs under its own timeout and
// every failure is reported as errclass.TransientIO.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ store.RemoteStore = (*Store)(nil)

// Open prepares a MySQL handle without connecting. parseTime is forced on
// so DATETIME columns scan into time.Time.
func Open(dsn string, timeout time.Duration, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errclass.ConfigMissing.WithMessage("remote dsn is empty")
	}
	if !strings.Contains(dsn, "parseTime=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "parseTime=true&loc=UTC"
	}

	// No round trip at open: the station must boot while the remote is
	// unreachable, and Ping reports reachability per sync cycle.
	gdb, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:               newGormLogger(log),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, errclass.Transient(fmt.Errorf("open remote: %w", err))
	}
	return New(gdb, timeout), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{db: db, timeout: timeout}
}

func newGormLogger(log *zap.Logger) logger.Interface {
	if log == nil {
		return logger.Discard
	}
	return logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Error,
		IgnoreRecordNotFoundError: true,
	})
}

// AutoMigrate creates the cloud tables. Production tables are owned by the
// dashboard; this is for dev databases and tests.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// tx returns a handle bound to a per-call deadline.
func (s *Store) tx(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

func fail(op string, err error) error {
	return errclass.Transient(fmt.Errorf("remote %s: %w", op, err))
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fail("ping", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fail("ping", err)
	}
	return nil
}

func (s *Store) Credentials(ctx context.Context) ([]types.Credential, error) {
	db, cancel := s.tx(ctx)
	defer cancel()

	var rows []userRow
	if err := db.Order("csu_id").Find(&rows).Error; err != nil {
		return nil, fail("credentials", err)
	}
	out := make([]types.Credential, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.credential())
	}
	return out, nil
}

func (s *Store) Permissions(ctx context.Context) ([]types.Permission, error) {
	db, cancel := s.tx(ctx)
	defer cancel()

	var rows []permissionRow
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, fail("permissions", err)
	}
	out := make([]types.Permission, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Permission{
			CredentialID: r.CsuID,
			MachineID:    r.MachineID,
			GrantedBy:    r.GrantedBy,
			GrantedAt:    r.GrantedAt,
		})
	}
	return out, nil
}

func (s *Store) Machines(ctx context.Context) ([]types.MachineRecord, error) {
	db, cancel := s.tx(ctx)
	defer cancel()

	var rows []machineRow
	if err := db.Order("machine_id").Find(&rows).Error; err != nil {
		return nil, fail("machines", err)
	}
	out := make([]types.MachineRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	db, cancel := s.tx(ctx)
	defer cancel()

	var rows []settingRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fail("settings", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *Store) RequestReviews(ctx context.Context, ids []string) ([]types.AccessRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, cancel := s.tx(ctx)
	defer cancel()

	var rows []requestRow
	if err := db.Where("request_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fail("request reviews", err)
	}
	out := make([]types.AccessRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.request())
	}
	return out, nil
}

func (s *Store) Machine(ctx context.Context, machineID string) (types.MachineRecord, bool, error) {
	db, cancel := s.tx(ctx)
	defer cancel()

	var rows []machineRow
	if err := db.Where("machine_id = ?", machineID).Limit(1).Find(&rows).Error; err != nil {
		return types.MachineRecord{}, false, fail("machine", err)
	}
	if len(rows) == 0 {
		return types.MachineRecord{}, false, nil
	}
	return rows[0].record(), true, nil
}

func (s *Store) RegisterMachine(ctx context.Context, rec types.MachineRecord) error {
	db, cancel := s.tx(ctx)
	defer cancel()

	status := rec.Status
	if !status.Valid() {
		status = types.StatusNeutral
	}
	row := machineRow{
		MachineID:     rec.MachineID,
		MachineName:   rec.DisplayName,
		MachineType:   rec.MachineType,
		MachineStatus: string(status),
		DeviceID:      strPtr(rec.BoundDeviceUID),
		LastHeartbeat: rec.LastHeartbeat,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fail("register machine", err)
	}
	return nil
}

func (s *Store) UpdateMachineLive(ctx context.Context, machineID string, status types.MachineStatus, deviceUID string, heartbeat time.Time) error {
	db, cancel := s.tx(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		live := map[string]any{"last_heartbeat": heartbeat.UTC()}
		if deviceUID != "" {
			live["device_id"] = deviceUID
		}
		if err := tx.Model(&machineRow{}).Where("machine_id = ?", machineID).Updates(live).Error; err != nil {
			return err
		}
		return tx.Model(&machineRow{}).
			Where("machine_id = ? AND machine_status <> ?", machineID, string(types.StatusMaintenance)).
			Update("machine_status", string(status)).Error
	})
	if err != nil {
		return fail("update machine", err)
	}
	return nil
}

func (s *Store) BindCredentialDevice(ctx context.Context, credentialID, deviceUID string) error {
	db, cancel := s.tx(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		var owners int64
		if err := tx.Model(&userRow{}).Where("uid = ?", deviceUID).Count(&owners).Error; err != nil {
			return err
		}
		if owners > 0 {
			return nil
		}
		return tx.Model(&userRow{}).
			Where("csu_id = ? AND (uid IS NULL OR uid = '')", credentialID).
			Update("uid", deviceUID).Error
	})
	if err != nil {
		return fail("bind credential", err)
	}
	return nil
}

func (s *Store) UpsertAccessRequest(ctx context.Context, req types.AccessRequest) error {
	db, cancel := s.tx(ctx)
	defer cancel()

	row := requestRow{
		RequestID:   req.RequestID,
		UID:         strPtr(req.DeviceUID),
		CsuID:       req.CredentialID,
		MachineID:   req.MachineID,
		RequestedOn: req.RequestedAt.UTC(),
		Status:      remoteUnderReview,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"uid", "csu_id", "machine_id", "requested_on"}),
	}).Create(&row).Error
	if err != nil {
		return fail("upsert request", err)
	}
	return nil
}

func (s *Store) UpsertUsageSession(ctx context.Context, us types.UsageSession) error {
	db, cancel := s.tx(ctx)
	defer cancel()

	row := usageRow{
		SessionID: us.SessionID,
		CsuID:     us.CredentialID,
		MachineID: us.MachineID,
		StartTime: us.StartTime.UTC(),
		Duration:  us.Duration,
	}
	if us.EndTime != nil {
		end := us.EndTime.UTC()
		row.EndTime = &end
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"csu_id", "machine_id", "start_time", "end_time", "duration"}),
	}).Create(&row).Error
	if err != nil {
		return fail("upsert session", err)
	}
	return nil
}
