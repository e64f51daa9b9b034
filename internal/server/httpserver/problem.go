package httpserver

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
)

// ProblemTypeBase prefixes the problem "type" URI.
const ProblemTypeBase = "https://errors.lokaltreu.example/"

const contentTypeProblem = "application/problem+json"

// Problem is an RFC 9457 problem document.
type Problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	ErrorCode     string `json:"error_code"`
	CorrelationID string `json:"correlation_id,omitempty"`
	RetryAfter    int    `json:"retry_after,omitempty"`
}

// problemWriter renders errors. Internal details are logged, never sent.
type problemWriter struct {
	log *zap.Logger
}

func (p problemWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	p.writeStatus(w, r, err, 0)
}

// writeStatus renders err, replacing the mapped status when status != 0.
func (p problemWriter) writeStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	k := errs.KindOf(err)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		k = errs.KindOf(errs.ErrInvalidInput)
	}
	if status != 0 {
		k.Status = status
	}

	doc := Problem{
		Type:          ProblemTypeBase + k.Code,
		Title:         k.Title,
		Status:        k.Status,
		Instance:      r.URL.Path,
		ErrorCode:     k.Code,
		CorrelationID: CorrelationID(r.Context()),
	}
	switch {
	case k.Status >= http.StatusInternalServerError:
		p.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", k.Code),
			zap.String("correlation_id", doc.CorrelationID),
			zap.Error(err))
	case len(verrs) > 0:
		doc.Detail = validationDetail(verrs)
	}
	if doc.Detail == "" {
		// error text may carry ids and driver messages
		doc.Detail = k.Title
	}
	if d, ok := errs.RetryAfter(err); ok {
		secs := int(math.Ceil(d.Seconds()))
		if secs < 1 {
			secs = 1
		}
		doc.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", contentTypeProblem)
	w.WriteHeader(k.Status)
	_ = json.NewEncoder(w).Encode(doc)
}

func validationDetail(verrs validator.ValidationErrors) string {
	fe := verrs[0]
	return fe.Field() + " failed " + fe.Tag()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
