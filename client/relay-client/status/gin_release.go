//go:build release
// +build release

package status

import "github.com/gin-gonic/gin"

// newEngine sets up Gin in release mode for production builds
func newEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// the status port is only reached directly on the device network
	router.SetTrustedProxies(nil)

	return router
}
