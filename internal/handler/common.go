package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// pathID parses a numeric path parameter.  Zero means the value was
// missing or malformed; callers translate that to 400.
func pathID(c echo.Context, name string) uint64 {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// pageParams reads ?page= and ?per= with the listing defaults.  Values
// are clamped: page is at least 1, per stays within 1..100.
func pageParams(c echo.Context) (page, per int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	per, _ = strconv.Atoi(c.QueryParam("per"))
	if page < 1 {
		page = 1
	}
	if per < 1 {
		per = 20
	}
	if per > 100 {
		per = 100
	}
	return page, per
}
