package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vidaleve/backend/internal/validation"
)

const ctxBodyKey contextKey = "validated_body"

const maxBodyBytes = 1 << 20

// SchemaValidator checks a raw body against a named schema.
type SchemaValidator interface {
	Validate(name string, body []byte) error
}

// ValidateBody reads the request body, rejects it unless it satisfies schema,
// then restores r.Body so the handler can decode it again. The raw bytes are
// also available through BodyFromCtx.
func ValidateBody(v SchemaValidator, schema string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			r.Body.Close()
			if err != nil {
				var tooBig *http.MaxBytesError
				if errors.As(err, &tooBig) {
					http.Error(w, `{"error":"body too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			if err := v.Validate(schema, body); err != nil {
				if errors.Is(err, validation.ErrValidation) {
					http.Error(w, `{"error":`+strconv.Quote(err.Error())+`}`, http.StatusUnprocessableEntity)
					return
				}
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			ctx := context.WithValue(r.Context(), ctxBodyKey, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BodyFromCtx returns the body stored by ValidateBody, or nil.
func BodyFromCtx(ctx context.Context) []byte {
	b, _ := ctx.Value(ctxBodyKey).([]byte)
	return b
}
