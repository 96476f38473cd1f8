// Package api is the REST surface of hashgate. Every route except the
// liveness ping sits behind the account header middleware; priced
// operations run through the facade, payments through the deposit
// builder, and the admin surface talks to the credit manager directly.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v8"

	"gitlab.com/arcanecrypto/hashgate/api/apierr"
	"gitlab.com/arcanecrypto/hashgate/api/auth"
	"gitlab.com/arcanecrypto/hashgate/api/validation"
	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/credits"
	"gitlab.com/arcanecrypto/hashgate/deposits"
	"gitlab.com/arcanecrypto/hashgate/facade"
)

var log = build.AddSubLogger("API")

// Config is the configuration for our API.
type Config struct {
	// Network is the Hedera network we serve operations against.
	Network string
	// CORSOrigins are the origins allowed to call the API from a
	// browser. Empty means local development only.
	CORSOrigins []string
}

// RestServer is the rest server for our app. It includes a Router, the
// credit manager, the deposit builder and the operation facade.
type RestServer struct {
	Router  *gin.Engine
	manager *credits.Manager
	builder *deposits.Builder
	facade  *facade.Facade
	network string
}

func getCorsConfig(origins []string) cors.Config {
	if len(origins) == 0 {
		origins = []string{"http://127.0.0.1:3000"}
	}
	return cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodPut, http.MethodGet,
			http.MethodPost, http.MethodPatch,
			http.MethodDelete,
		},
		AllowHeaders: []string{
			"Accept", "Access-Control-Allow-Origin", "Content-Type", "Referer",
			auth.Header},
	}
}

// requestIDVariable is the Gin variable the request ID middleware
// stores its ID under.
const requestIDVariable = "request-id"

// requestIDMiddleware tags every request with a unique ID and echoes it
// in the X-Request-ID response header, so a client report can be tied
// to the server side of the exchange.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set(requestIDVariable, id)
		c.Writer.Header().Set("X-Request-ID", id)
	}
}

// getGinEngine creates a new Gin engine, and applies middlewares used by
// our API. This includes recovering from panics, logging with Logrus and
// applying CORS configuration.
func getGinEngine(config Config) *gin.Engine {
	engine := gin.New()

	log.Debug("Applying gin.Recovery middleware")
	engine.Use(gin.Recovery())

	log.Debug("Applying Gin logging middleware")
	engine.Use(build.GinLoggingMiddleWare(log, nil))

	log.Debug("Applying request ID middleware")
	engine.Use(requestIDMiddleware())

	log.Debug("Applying CORS middleware")
	corsConfig := getCorsConfig(config.CORSOrigins)
	engine.Use(cors.New(corsConfig))

	log.Debug("Applying error handler middleware")
	engine.Use(apierr.GetMiddleware(log))
	return engine
}

// NewApp creates a new app
func NewApp(manager *credits.Manager, builder *deposits.Builder,
	f *facade.Facade, config Config) (RestServer, error) {

	if config.Network == "" {
		return RestServer{}, errors.New("config.Network is not set")
	}

	g := getGinEngine(config)

	engine, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return RestServer{}, fmt.Errorf(
			"gin validator engine (%s) was not validator.Validate",
			binding.Validator.Engine(),
		)
	}
	validators := validation.RegisterAllValidators(engine)
	log.Infof("Registered custom validators: %s", validators)

	r := RestServer{
		Router:  g,
		manager: manager,
		builder: builder,
		facade:  f,
		network: config.Network,
	}

	r.registerFacadeHandlers()

	// Ping handler
	r.Router.GET("/ping", func(c *gin.Context) {
		c.String(200, "pong")
	})

	r.Router.NoRoute(func(c *gin.Context) {
		apierr.Public(c, http.StatusNotFound, apierr.ErrRouteNotFound)
	})

	r.registerOperationRoutes()
	r.registerPaymentRoutes()
	r.registerAdminRoutes()

	return r, nil
}

// registerOperationRoutes registers the routes that run through the
// operation facade: the priced invocation endpoint and the free reads.
func (r *RestServer) registerOperationRoutes() {
	operations := r.Router.Group("")
	operations.Use(auth.GetMiddleware())

	operations.GET("/info", r.getInfo())
	operations.GET("/health", r.getHealth())
	operations.GET("/balance", r.getBalance())
	operations.GET("/history", r.getHistory())
	operations.GET("/operations", r.getOperationCosts())
	operations.POST("/operations/invoke", r.invokeOperation())
}

// registerPaymentRoutes registers the self-service payment routes.
func (r *RestServer) registerPaymentRoutes() {
	payments := r.Router.Group("")
	payments.Use(auth.GetMiddleware())

	payments.POST("/payments", r.createPayment())
	payments.GET("/payments/:txid", r.getPayment())
}

// registerAdminRoutes registers the routes that manage payments and
// accounts on behalf of others. Every handler requires an admin caller.
func (r *RestServer) registerAdminRoutes() {
	admin := r.Router.Group("/admin")
	admin.Use(auth.GetMiddleware())

	admin.POST("/payments", r.adminProcessPayment())
	admin.POST("/payments/:txid/refund", r.refundPayment())
	admin.POST("/adjustments", r.adminAdjust())
	admin.GET("/accounts/:id", r.getAccount())
	admin.PUT("/accounts/:id/status", r.setAccountStatus())
}
