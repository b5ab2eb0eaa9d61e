package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/util"
)

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func Success(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, models.Envelope{
		Success:   true,
		Data:      data,
		Timestamp: timestamp(),
		Status:    status,
	})
}

// Error writes the error envelope. Only ResponseError messages reach the
// client; everything else becomes a generic 500.
func Error(c echo.Context, err error) error {
	var re *util.ResponseError
	if !errors.As(err, &re) {
		re = util.NewKindError(util.KindInternal)
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(re.Status)
	}
	return c.JSON(re.Status, models.Envelope{
		Success:   false,
		Error:     re.Msg,
		Timestamp: timestamp(),
		Status:    re.Status,
	})
}
