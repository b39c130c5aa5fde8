package main

import (
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"supporthub/internal/rowstore/httpcsv"
	"supporthub/pkg/logging"
)

// mirror-server serves the mirror tree as published CSV documents:
// GET /sheets/{key}?sheet={title}. It stands in for a spreadsheet
// "publish to web" export during development.
func main() {
	var (
		addr = flag.String("addr", ":9000", "listen address")
		root = flag.String("root", httpcsv.DefaultMirrorRoot, "mirror root")
	)
	flag.Parse()
	log := logging.Component("mirror-server")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/sheets/:key", func(c *gin.Context) {
		path, err := httpcsv.ResolveMirror(*root, c.Param("key"), c.Query("sheet"))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				c.String(http.StatusNotFound, "no such sheet")
				return
			}
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		b, err := os.ReadFile(path)
		if err != nil {
			c.String(http.StatusInternalServerError, "cannot read "+path+": "+err.Error())
			return
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", b)
	})

	log.Info().Str("addr", *addr).Str("root", *root).Msg("mirror-server listening")
	if err := router.Run(*addr); err != nil {
		log.Fatal().Err(err).Msg("mirror-server stopped")
	}
}
