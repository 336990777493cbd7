package webdav

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"
)

// Prefix is the URL path the WebDAV handler is mounted under.
const Prefix = "/webdav"

// NewHandler creates a WebDAV HTTP handler for fsys.
func NewHandler(fsys *LifionFS) http.Handler {
	return &webdav.Handler{
		FileSystem: fsys,
		LockSystem: webdav.NewMemLS(),
		Prefix:     Prefix,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				fsys.log.Debug("webdav request failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
		},
	}
}
