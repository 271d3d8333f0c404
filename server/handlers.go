package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/server/auth/key"
	"github.com/Daskott/sheguard/server/identity"
	"github.com/Daskott/sheguard/server/models"
	"github.com/Daskott/sheguard/server/proximity"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
)

type ResponsePayload struct {
	Errors   []string    `json:"errors,omitempty"`
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	Category string      `json:"category,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

type sendOtpRequest struct {
	ContactInfo string `json:"contactInfo" validate:"required"`
}

type verifyOtpRequest struct {
	ContactInfo string `json:"contactInfo" validate:"required"`
	Otp         string `json:"otp" validate:"required"`
}

type loginRequest struct {
	ContactInfo string `json:"contactInfo" validate:"required"`
	Password    string `json:"password" validate:"required"`
}

type setPasswordRequest struct {
	Password string `json:"password" validate:"required,password"`
}

type volunteerStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=online busy offline"`
}

type volunteerLocationRequest struct {
	Lat *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lng *float64 `json:"lng" validate:"required,min=-180,max=180"`
}

type verifyVolunteerRequest struct {
	Verified *bool `json:"verified" validate:"required"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := RegisterValidators(validate); err != nil {
		panic(err)
	}
}

func (app *App) sendOtp(rw http.ResponseWriter, r *http.Request) {
	data := sendOtpRequest{}
	if err := decodeAndValidate(rw, r, &data); err != nil {
		writeError(rw, err)
		return
	}

	result, err := app.service.IssueOtp(r.Context(), data.ContactInfo)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Message: "OTP sent successfully", Data: result}, http.StatusOK)
}

func (app *App) verifyOtp(rw http.ResponseWriter, r *http.Request) {
	data := verifyOtpRequest{}
	if err := decodeAndValidate(rw, r, &data); err != nil {
		writeError(rw, err)
		return
	}

	result, err := app.service.VerifyOtp(r.Context(), data.ContactInfo, data.Otp)
	if err != nil {
		writeError(rw, err)
		return
	}

	setSessionCookie(rw, result.Token, app.secureCookies)
	writeResponse(rw, ResponsePayload{Success: true, Message: "OTP verified successfully", Data: result}, http.StatusOK)
}

func (app *App) login(rw http.ResponseWriter, r *http.Request) {
	data := loginRequest{}
	if err := decodeAndValidate(rw, r, &data); err != nil {
		writeError(rw, err)
		return
	}

	result, err := app.service.Login(r.Context(), data.ContactInfo, data.Password)
	if err != nil {
		writeError(rw, err)
		return
	}

	setSessionCookie(rw, result.Token, app.secureCookies)
	writeResponse(rw, ResponsePayload{Success: true, Message: "Login successful", Data: result}, http.StatusOK)
}

func (app *App) logout(rw http.ResponseWriter, r *http.Request) {
	clearSessionCookie(rw, app.secureCookies)
	writeResponse(rw, ResponsePayload{Success: true, Message: "Logged out"}, http.StatusOK)
}

func (app *App) me(rw http.ResponseWriter, r *http.Request) {
	user, err := app.service.Me(r.Context(), requestSession(r))
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]interface{}{"user": user}}, http.StatusOK)
}

func (app *App) setPassword(rw http.ResponseWriter, r *http.Request) {
	data := setPasswordRequest{}
	if err := decodeAndValidate(rw, r, &data); err != nil {
		writeError(rw, err)
		return
	}

	err := app.service.SetPassword(r.Context(), requestSession(r), data.Password)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Message: "Password updated"}, http.StatusOK)
}

func (app *App) signup(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(rw, apperr.Wrap(apperr.KindValidation, "Invalid form data", err))
		return
	}

	profilePhoto, err := readUpload(r, "profilePhoto")
	if err != nil {
		writeError(rw, err)
		return
	}

	nidPhoto, err := readUpload(r, "nidPhoto")
	if err != nil {
		writeError(rw, err)
		return
	}

	result, err := app.service.CompleteProfile(r.Context(), requestSession(r), identity.ProfileInput{
		Role:         r.FormValue("role"),
		Name:         r.FormValue("name"),
		Gender:       r.FormValue("gender"),
		Email:        r.FormValue("email"),
		Phone:        r.FormValue("phone"),
		Lat:          r.FormValue("lat"),
		Lng:          r.FormValue("lng"),
		ProfilePhoto: profilePhoto,
		Phone2:       r.FormValue("phone2"),
		NidNumber:    r.FormValue("nidNumber"),
		NidPhoto:     nidPhoto,
		Skills:       r.MultipartForm.Value["skills"],
	})
	if err != nil {
		writeError(rw, err)
		return
	}

	setSessionCookie(rw, result.Token, app.secureCookies)
	writeResponse(rw, ResponsePayload{Success: true, Message: "Registration complete", Data: result}, http.StatusCreated)
}

func (app *App) volunteerMe(rw http.ResponseWriter, r *http.Request) {
	view, err := app.service.VolunteerProfile(r.Context(), requestSession(r))
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]interface{}{"volunteer": view}}, http.StatusOK)
}

func (app *App) updateVolunteerStatus(rw http.ResponseWriter, r *http.Request) {
	data := volunteerStatusRequest{}
	if err := decodeAndValidate(rw, r, &data); err != nil {
		writeError(rw, err)
		return
	}

	status, err := app.service.UpdateVolunteerStatus(r.Context(), requestSession(r), data.Status)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]interface{}{"status": status}}, http.StatusOK)
}

func (app *App) updateVolunteerLocation(rw http.ResponseWriter, r *http.Request) {
	data := volunteerLocationRequest{}
	if err := decodeAndValidate(rw, r, &data); err != nil {
		writeError(rw, err)
		return
	}

	location, err := app.service.UpdateVolunteerLocation(
		r.Context(),
		requestSession(r),
		proximity.Point{Lat: *data.Lat, Lng: *data.Lng},
	)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]interface{}{"location": location}}, http.StatusOK)
}

func (app *App) volunteerRequests(rw http.ResponseWriter, r *http.Request) {
	maxDistance, limit, err := proximityParams(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	requests, err := app.service.HelpRequests(r.Context(), requestSession(r), maxDistance, limit)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"requests": requests, "count": len(requests)},
	}, http.StatusOK)
}

func (app *App) nearbyVolunteers(rw http.ResponseWriter, r *http.Request) {
	maxDistance, limit, err := proximityParams(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	volunteers, err := app.service.NearbyVolunteers(r.Context(), requestSession(r), maxDistance, limit, queryBool(r, "online"))
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"volunteers": volunteers, "count": len(volunteers)},
	}, http.StatusOK)
}

func (app *App) verifyVolunteer(rw http.ResponseWriter, r *http.Request) {
	data := verifyVolunteerRequest{}
	if err := decodeAndValidate(rw, r, &data); err != nil {
		writeError(rw, err)
		return
	}

	view, err := app.service.VerifyVolunteer(r.Context(), requestSession(r), mux.Vars(r)["id"], *data.Verified)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]interface{}{"volunteer": view}}, http.StatusOK)
}

func (app *App) fetchJobs(rw http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status == "" {
		status = models.ENQUEUED_JOB
	}

	if !models.JobStatusNameMap[status] {
		writeError(rw, apperr.New(apperr.KindValidation, "Invalid job status"))
		return
	}

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	jobs, paging, err := app.store.FetchJobsByStatus(status, page)
	if err != nil {
		writeError(rw, apperr.Internal(err))
		return
	}

	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"jobs": jobs, "paging": paging},
	}, http.StatusOK)
}

func (app *App) jwks(rw http.ResponseWriter, r *http.Request) {
	keyPairJWK, err := app.keyPair.JWK()
	if err != nil {
		writeError(rw, apperr.Internal(err))
		return
	}

	jwks, err := json.Marshal(key.ExportJWKAsJWKS(keyPairJWK))
	if err != nil {
		writeError(rw, apperr.Internal(err))
		return
	}

	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write(jwks); err != nil {
		logg.Error(err)
	}
}

func (app *App) health(rw http.ResponseWriter, r *http.Request) {
	stats, err := app.store.CurrentJobsStats()
	if err != nil {
		writeError(rw, apperr.Internal(err))
		return
	}

	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"status": "ok", "jobs": stats},
	}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func proximityParams(r *http.Request) (float64, int, error) {
	maxDistance, err := queryFloat(r, "maxDistance")
	if err != nil {
		return 0, 0, err
	}

	if maxDistance > proximity.MaxRadiusKm {
		return 0, 0, apperr.New(apperr.KindValidation, fmt.Sprintf("maxDistance must not exceed %.0f km", proximity.MaxRadiusKm))
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		return 0, 0, err
	}

	return maxDistance, limit, nil
}
