package server

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/server/auth"
	"github.com/Daskott/sheguard/server/identity"
	"github.com/Daskott/sheguard/server/work"
	"github.com/Daskott/sheguard/utils"
	"github.com/go-playground/validator"
)

const (
	sessionCookieName = "auth_token"
	maxUploadBytes    = 10 << 20
	maxJSONBodyBytes  = 1 << 20
)

// ---------------------------------------------------------------------------------//
// Handler Helper functions
// --------------------------------------------------------------------------------//

// writeResponse encodes payLoad before writing the status, so a payload that
// cannot be encoded becomes a 500 instead of a truncated body.
func writeResponse(rw http.ResponseWriter, payLoad ResponsePayload, statusCode int) {
	body, err := json.Marshal(payLoad)
	if err != nil {
		logg.Errorw("unable to encode response", "error", err)
		statusCode = http.StatusInternalServerError
		body, _ = json.Marshal(ResponsePayload{
			Errors:   []string{"an unexpected error occurred"},
			Message:  "an unexpected error occurred",
			Category: string(apperr.KindInternal),
		})
	}

	rw.WriteHeader(statusCode)
	if _, err := rw.Write(append(body, '\n')); err != nil {
		logg.Error(err)
	}
}

// writeError maps err onto its category and status. Internal errors are
// logged with their cause and reported generically.
func writeError(rw http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	message := apperr.PublicMessage(err)

	if kind == apperr.KindInternal {
		logg.Errorw("request failed", "error", err)
	} else {
		logg.Infow("request rejected", "category", kind, "error", err)
	}

	writeResponse(rw, ResponsePayload{
		Errors:   []string{message},
		Message:  message,
		Category: string(kind),
	}, kind.HTTPStatus())
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
func decodeAndValidate(rw http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxJSONBodyBytes))

	if err := decoder.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "Invalid request body", err)
	}

	if errs := validate.Struct(dst); errs != nil {
		return apperr.Wrap(apperr.KindValidation, validationMessage(errs), errs)
	}

	return nil
}

func validationMessage(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return "Invalid request"
	}

	messages := []string{}
	for _, fieldErr := range validationErrors {
		switch fieldErr.Tag() {
		case "required":
			messages = append(messages, fieldErr.Field()+" is required")
		case "password":
			messages = append(messages, fieldErr.Field()+" must be at least 8 characters with no spaces")
		default:
			messages = append(messages, fieldErr.Field()+" is invalid")
		}
	}

	return strings.Join(messages, ", ")
}

func RegisterValidators(validate *validator.Validate) error {
	return validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return identity.ValidPassword(fl.Field().String())
	})
}

func setSessionCookie(rw http.ResponseWriter, token string, secure bool) {
	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenLifetime.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(rw http.ResponseWriter, secure bool) {
	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// readUpload returns the named multipart file, or nil when it was not sent.
func readUpload(r *http.Request, field string) (*identity.Upload, error) {
	file, header, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Invalid "+field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Invalid "+field, err)
	}

	return &identity.Upload{Filename: header.Filename, Data: data}, nil
}

func queryFloat(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, apperr.New(apperr.KindValidation, name+" must be a positive number")
	}
	return value, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, apperr.New(apperr.KindValidation, name+" must be a positive integer")
	}
	return value, nil
}

func queryBool(r *http.Request, name string) bool {
	value, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return value
}

// ---------------------------------------------------------------------------------//
// Server Helper functions
// --------------------------------------------------------------------------------//

func serve(server *http.Server) {
	logg.Infof("SheGuard server is listening on port%v", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal(err)
	}
}

func cleanup(app *App, workerPool *work.WorkerPoolAdapter, server *http.Server, backupDb bool) {
	// Stop all background jobs before the final backup
	workerPool.Stop()

	if backupDb {
		if err := app.backupSqliteDb(nil); err != nil {
			logg.Error(err)
		}
	}

	// Shutdown server gracefully
	ctxShutDown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutDown); err != nil {
		logg.Fatalf("SheGuard server shutdown failed:%+s", err)
	}

	if err := app.store.Close(); err != nil {
		logg.Error(err)
	}

	logg.Infof("SheGuard server stopped properly")
}

// configDirectory retrieves the directory to store sheguard data
// Or logs an error message and then calls os.Exit if it's unable to.
func configDirectory(devMode bool) string {
	// Use 'sheguard' folder in home directory for prod
	configFolderName := "sheguard"
	rootDir, err := os.UserHomeDir()
	fatalOnError(err)

	// Use 'dev' folder in current directory for dev mode
	if devMode {
		configFolderName = "dev"
		rootDir, err = os.Getwd()
		fatalOnError(err)
	}

	configDir := filepath.Join(rootDir, configFolderName)

	err = utils.CreateDirIfNotExist(configDir)
	fatalOnError(err)

	return configDir
}

func fatalOnError(err error) {
	if err != nil {
		logg.Fatal(err)
	}
}
