package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/84adam/arkvault/api"
)

// JSONResponse sends a standard JSON response
func JSONResponse(c echo.Context, status int, message string, data interface{}) error {
	response := api.Response{
		Success: status >= 200 && status < 300,
		Message: message,
		Data:    data,
	}
	return c.JSON(status, response)
}

// JSONError sends a standard JSON error response. code is one of the api.Code
// constants and is what clients branch on; message is for humans.
func JSONError(c echo.Context, status int, code, message string) error {
	response := api.Response{
		Success: false,
		Message: message,
		Code:    code,
	}
	return c.JSON(status, response)
}
