package db

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"meshnode/pkg/model"
)

type peerRow struct {
	Endpoint string `gorm:"primaryKey;size:128"`
	AddedAt  time.Time
}

func (peerRow) TableName() string { return "peers" }

type auditRow struct {
	ID        uint   `gorm:"primaryKey"`
	Actor     string `gorm:"size:64"`
	Action    string `gorm:"size:32"`
	Target    string `gorm:"size:128"`
	Detail    string
	Timestamp time.Time `gorm:"index"`
}

func (auditRow) TableName() string { return "audit" }

// Store is a MySQL-backed store implemented with gorm.
type Store struct {
	db *gorm.DB
}

// DSN resolves the connection string. An explicit dsn wins; otherwise
// MYSQL_DSN, then MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASS, MYSQL_DB.
func DSN(dsn string) string {
	if dsn != "" {
		return dsn
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		return v
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		getenv("MYSQL_USER", "root"),
		getenv("MYSQL_PASS", ""),
		getenv("MYSQL_HOST", "127.0.0.1"),
		getenv("MYSQL_PORT", "3306"),
		getenv("MYSQL_DB", "meshnode"))
}

// Open connects to MySQL and runs migrations. A missing database is created.
func Open(dsn string) (*Store, error) {
	dsn = DSN(dsn)
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "Unknown database") {
			return nil, err
		}
		if cerr := createDatabase(dsn); cerr != nil {
			return nil, fmt.Errorf("create database failed: %w", cerr)
		}
		if db, err = gorm.Open(mysql.Open(dsn), cfg); err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(8)
	if err := db.AutoMigrate(&peerRow{}, &auditRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SavePeer(p model.PeerRecord) error {
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now()
	}
	row := peerRow{Endpoint: p.Endpoint, AddedAt: p.AddedAt}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *Store) DeletePeer(endpoint string) error {
	return s.db.Delete(&peerRow{}, "endpoint = ?", endpoint).Error
}

func (s *Store) ListPeers() ([]model.PeerRecord, error) {
	var rows []peerRow
	if err := s.db.Order("endpoint").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.PeerRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.PeerRecord{Endpoint: r.Endpoint, AddedAt: r.AddedAt})
	}
	return out, nil
}

func (s *Store) AppendAudit(e model.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	row := auditRow{Actor: e.Actor, Action: e.Action, Target: e.Target, Detail: e.Detail, Timestamp: e.Timestamp}
	return s.db.Create(&row).Error
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	var rows []auditRow
	q := s.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.AuditEntry, len(rows))
	for i, r := range rows {
		// reverse into oldest-first order
		out[len(rows)-1-i] = model.AuditEntry{
			Actor:     r.Actor,
			Action:    r.Action,
			Target:    r.Target,
			Detail:    r.Detail,
			Timestamp: r.Timestamp,
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// createDatabase connects without a schema and creates the one named in dsn.
func createDatabase(dsn string) error {
	slash := strings.LastIndex(dsn, "/")
	if slash < 0 {
		return fmt.Errorf("dsn has no database name")
	}
	name := dsn[slash+1:]
	if q := strings.IndexByte(name, '?'); q >= 0 {
		name = name[:q]
	}
	if name == "" {
		return fmt.Errorf("dsn has no database name")
	}
	db, err := sql.Open("mysql", dsn[:slash+1])
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", name))
	return err
}
