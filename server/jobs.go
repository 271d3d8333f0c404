package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Daskott/sheguard/server/gstorage"
	"github.com/Daskott/sheguard/server/identity"
	"github.com/Daskott/sheguard/server/work"
	"github.com/Daskott/sheguard/utils"
	"github.com/pkg/errors"
)

const (
	SEND_OTP_JOB         = "send_otp"
	BACKUP_SQLITE_DB_JOB = "backup_sqlite_db"
)

type emailSender interface {
	Send(to, subject, htmlBody string) error
}

type smsSender interface {
	SendMessage(to, msg string) (string, error)
}

type jobPerformer interface {
	Perform(job work.JobParams) error
}

// jobDispatcher hands OTP messages to the job queue so delivery happens
// outside the request.
type jobDispatcher struct {
	jobs jobPerformer
}

func (d *jobDispatcher) Dispatch(ctx context.Context, msg identity.Message) error {
	return d.jobs.Perform(work.JobParams{
		Name:    fmt.Sprintf("%v-%v", SEND_OTP_JOB, msg.Channel),
		Handler: SEND_OTP_JOB,
		Args: map[string]interface{}{
			"to":      msg.To,
			"channel": msg.Channel,
			"subject": msg.Subject,
			"body":    msg.Body,
		},
	})
}

// sendOtpHandler delivers a queued OTP message. A channel with no configured
// sender is skipped.
func sendOtpHandler(mailer emailSender, sms smsSender) work.Handler {
	return func(args map[string]interface{}) error {
		to, _ := args["to"].(string)
		channel, _ := args["channel"].(string)
		subject, _ := args["subject"].(string)
		body, _ := args["body"].(string)

		if to == "" {
			return errors.New("send_otp: missing recipient")
		}

		switch channel {
		case identity.ChannelEmail:
			if mailer == nil {
				logg.Warnf("No mailer configured, dropping OTP email to %v", to)
				return nil
			}
			return errors.Wrap(mailer.Send(to, subject, body), "send_otp")
		case identity.ChannelSMS:
			if sms == nil {
				logg.Warnf("No SMS client configured, dropping OTP message to %v", to)
				return nil
			}
			sid, err := sms.SendMessage(to, body)
			if err != nil {
				return errors.Wrap(err, "send_otp")
			}
			logg.Infof("OTP message %v sent", sid)
			return nil
		default:
			return fmt.Errorf("send_otp: unknown channel %q", channel)
		}
	}
}

func (app *App) backupSqliteDb(map[string]interface{}) error {
	if app.storage == nil {
		return errors.New("backup_sqlite_db: no storage configured")
	}

	if err := app.store.Checkpoint(); err != nil {
		return errors.Wrap(err, "backup_sqlite_db")
	}

	return app.storage.UploadFile(context.Background(), app.store.Path())
}

// restoreSqliteDb pulls the latest backup into dbPath when no local database
// exists yet.
func restoreSqliteDb(storage *gstorage.GStorage, dbPath string) error {
	if utils.FileExist(dbPath) {
		return nil
	}

	if err := utils.CreateDirIfNotExist(filepath.Dir(dbPath)); err != nil {
		return err
	}

	err := storage.DownloadFile(context.Background(), gstorage.BackupObjectName(storage.Prefix(), dbPath), dbPath)
	if err == gstorage.ErrObjectNotExist {
		logg.Info("No sqlite backup found, starting with an empty database")
		os.Remove(dbPath)
		return nil
	}

	return err
}

func registerJobHandlers(app *App, wpa *work.WorkerPoolAdapter, mailer emailSender, sms smsSender) {
	fatalOnError(wpa.Register(SEND_OTP_JOB, sendOtpHandler(mailer, sms)))
	fatalOnError(wpa.Register(BACKUP_SQLITE_DB_JOB, app.backupSqliteDb))
}

func enqueuePeriodicJobs(wpa *work.WorkerPoolAdapter, backupSchedule string, backupEnabled bool) {
	if !backupEnabled {
		return
	}

	fatalOnError(wpa.PeriodicallyPerform(backupSchedule, work.JobParams{
		Name:    BACKUP_SQLITE_DB_JOB,
		Handler: BACKUP_SQLITE_DB_JOB,
		Unique:  true,
		Args:    map[string]interface{}{},
	}))
}
