package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/util"
	"github.com/rryowa/journalgate/internal/web"
)

// ErrorHandler renders every error that reaches echo as an envelope. Only
// ResponseError and echo.HTTPError messages are shown to the client.
func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var re *util.ResponseError
		if errors.As(err, &re) {
			if re.Status >= http.StatusInternalServerError {
				log.Errorw("request failed", append(web.AuditFields(c), "error", err)...)
			}
			writeError(log, c, re)
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			if he.Code >= http.StatusInternalServerError {
				log.Errorw("HTTP error", "error", err, "uri", c.Request().RequestURI)
				writeError(log, c, util.NewKindError(util.KindInternal))
				return
			}
			writeError(log, c, &util.ResponseError{
				Kind:   util.KindBadRequest,
				Msg:    fmt.Sprint(he.Message),
				Status: he.Code,
			})
			return
		}

		log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
		writeError(log, c, util.NewKindError(util.KindInternal))
	}
}

func writeError(log *zap.SugaredLogger, c echo.Context, re *util.ResponseError) {
	if err := web.Error(c, re); err != nil {
		log.Errorw("failed to write json response", "error", err)
	}
}
