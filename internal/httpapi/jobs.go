package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
)

const jobSubmittedMessage = "Job submitted successfully"

type jobRequest struct {
	CompanyName        string `json:"companyName" validate:"required"`
	CompanyDescription string `json:"companyDescription" validate:"required"`
	JobDescription     string `json:"jobDescription" validate:"required"`
	CalComLink         string `json:"calComLink" validate:"required,url"`
	ContactEmail       string `json:"contactEmail" validate:"required,email"`
}

type jobResponse struct {
	ID                 string `json:"id"`
	Message            string `json:"message"`
	CompanyName        string `json:"companyName"`
	CompanyDescription string `json:"companyDescription"`
	JobDescription     string `json:"jobDescription"`
	CalComLink         string `json:"calComLink"`
	ContactEmail       string `json:"contactEmail"`
	Status             string `json:"status"`
	CreatedAt          string `json:"created_at"`
}

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report the json names clients actually send.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (r *jobRequest) trim() {
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.CompanyDescription = strings.TrimSpace(r.CompanyDescription)
	r.JobDescription = strings.TrimSpace(r.JobDescription)
	r.CalComLink = strings.TrimSpace(r.CalComLink)
	r.ContactEmail = strings.TrimSpace(r.ContactEmail)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	req.trim()

	if err := s.validate.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, validationBody(err))
		return
	}

	job := &domain.JobPosting{
		CompanyName:        req.CompanyName,
		CompanyDescription: req.CompanyDescription,
		JobDescription:     req.JobDescription,
		ContactLink:        req.CalComLink,
		ContactEmail:       req.ContactEmail,
		Status:             domain.JobNotStarted,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("failed to store job posting", zap.String("company", job.CompanyName), zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, errorBody{Error: "failed to store job"})
		return
	}

	s.observer.ObserveJobSubmitted()
	s.logger.Info("job posting submitted", zap.String("job_id", job.ID), zap.String("company", job.CompanyName))

	s.jsonResponse(w, http.StatusCreated, jobResponse{
		ID:                 job.ID,
		Message:            jobSubmittedMessage,
		CompanyName:        job.CompanyName,
		CompanyDescription: job.CompanyDescription,
		JobDescription:     job.JobDescription,
		CalComLink:         job.ContactLink,
		ContactEmail:       job.ContactEmail,
		Status:             string(job.Status),
		CreatedAt:          job.CreatedAt.Format(time.RFC3339),
	})
}

func validationBody(err error) errorBody {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return errorBody{Error: "validation error: invalid request"}
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return errorBody{Error: "validation error", Fields: fields}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, body errorBody) {
	s.jsonResponse(w, status, body)
}
