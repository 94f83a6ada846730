package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// Envelope is the uniform success shape: {success, data?, message?}.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorBody is the uniform error shape.
type ErrorBody struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

func ok(c *echo.Context, data any) error {
	return c.JSON(http.StatusOK, &Envelope{Success: true, Data: data})
}

func okMessage(c *echo.Context, data any, message string) error {
	return c.JSON(http.StatusOK, &Envelope{Success: true, Data: data, Message: message})
}

func fail(c *echo.Context, status int, detail string) error {
	return c.JSON(status, &ErrorBody{Success: false, Detail: detail})
}
