package models

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Daskott/sheguard/utils"
	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const DB_NAME = "sheguard.db"

// Store is the handle every component uses to reach the database. It is
// created once at start up and passed to whatever needs it.
type Store struct {
	db     *gorm.DB
	dbPath string
}

// Open opens (or creates) the encrypted sqlite database under dbRootDir/db
// and migrates the schema.
func Open(passPhrase string, dbRootDir string) (*Store, error) {
	dbDir, err := DbDirectory(dbRootDir)
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dbDir, DB_NAME)
	dsn := fmt.Sprintf(
		"file:%v?_pragma_key=%s&_pragma_cipher_page_size=4096&_journal_mode=WAL",
		dbPath,
		passPhrase,
	)

	store, err := openStore(dsn)
	if err != nil {
		return nil, err
	}
	store.dbPath = dbPath

	return store, nil
}

// OpenInMemory opens a private, migrated in-memory database. Used by tests.
func OpenInMemory() (*Store, error) {
	return openStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}

// Path returns the database file path, empty for in-memory databases.
func (s *Store) Path() string {
	return s.dbPath
}

// Checkpoint flushes the WAL into the main database file.
func (s *Store) Checkpoint() error {
	return s.db.Exec("PRAGMA wal_checkpoint(FULL)").Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func openStore(dsn string) (*Store, error) {
	db, err := gorm.Open(sqliteEncrypt.Open(dsn), &gorm.Config{
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				LogLevel:                  gormLogger.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// sqlite serialises writers anyway; a single connection keeps
	// in-memory databases alive and avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.autoMigrate(); err != nil {
		return nil, err
	}

	return store, nil
}

// autoMigrate migrates the db schema and inserts seed data
func (s *Store) autoMigrate() error {
	err := s.db.AutoMigrate(&JobStatus{}, &Job{}, &User{})
	if err != nil {
		return fmt.Errorf("failed to migrate database: %v", err)
	}

	return s.populateDBWithSeedData()
}

func (s *Store) populateDBWithSeedData() error {
	err := s.db.First(&JobStatus{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&[]JobStatus{
			{Name: ENQUEUED_JOB},
			{Name: IN_PROGRESS_JOB},
			{Name: SUCCESSFUL_JOB},
			{Name: DEAD_JOB},
		}).Error
	}

	return err
}

func DbDirectory(dbRootDir string) (string, error) {
	dbDir := filepath.Join(dbRootDir, "db")

	err := utils.CreateDirIfNotExist(dbDir)
	if err != nil {
		return "", err
	}

	return dbDir, nil
}
