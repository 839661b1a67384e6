package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"sitter-points-backend/pkg/config"
	"sitter-points-backend/pkg/utils"
)

// Recovery turns a panicking handler into a 500 response. Development
// builds include the panic value and stack in the error details.
func Recovery(cfg *config.Config, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := debug.Stack()
				log.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.ByteString("stack", stack),
				)

				if r.Header.Get("Connection") == "Upgrade" {
					return
				}
				if cfg != nil && cfg.IsDevelopment() {
					utils.WriteErrorResponseWithCode(w, http.StatusInternalServerError,
						"INTERNAL_SERVER_ERROR",
						fmt.Sprintf("Internal server error: %v", rec),
						string(stack))
					return
				}
				utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
