package actions

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"gitlab.com/arcanecrypto/hashgate/api"
	"gitlab.com/arcanecrypto/hashgate/async"
	"gitlab.com/arcanecrypto/hashgate/cmd/hgd/flags"
	"gitlab.com/arcanecrypto/hashgate/credits"
	"gitlab.com/arcanecrypto/hashgate/db"
	"gitlab.com/arcanecrypto/hashgate/deposits"
	"gitlab.com/arcanecrypto/hashgate/dummy"
	"gitlab.com/arcanecrypto/hashgate/executor"
	"gitlab.com/arcanecrypto/hashgate/facade"
	"gitlab.com/arcanecrypto/hashgate/hbar"
	"gitlab.com/arcanecrypto/hashgate/ledger"
	"gitlab.com/arcanecrypto/hashgate/mirror"
	"gitlab.com/arcanecrypto/hashgate/pricing"
)

const (
	rpcAwaitAttempts = 5
	rpcAwaitDuration = time.Second
	rpcProbeTimeout  = 5 * time.Second
)

// awaitMirror tries to get an exchange rate out of the mirror node,
// returning an error if that isn't possible within a set of attempts
func awaitMirror(client *mirror.Client) error {
	retry := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), rpcProbeTimeout)
		defer cancel()
		_, err := client.HbarToUSD(ctx)
		if err != nil {
			log.WithError(err).Debug("exchange rate probe failed")
		}
		return err == nil
	}
	return async.Await(rpcAwaitAttempts, rpcAwaitDuration, retry, "couldn't reach mirror node")
}

// awaitExecutor tries to get a health response from the execution node,
// returning an error if that isn't possible within a set of attempts
func awaitExecutor(client *executor.Client) error {
	retry := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), rpcProbeTimeout)
		defer cancel()
		err := client.Ping(ctx)
		if err != nil {
			log.WithError(err).Debug("execution node probe failed")
		}
		return err == nil
	}
	return async.Await(rpcAwaitAttempts, rpcAwaitDuration, retry, "couldn't reach execution node")
}

// openStore picks the ledger backend from the database URL. SQL
// backends get a migration status check first, so a missing or botched
// schema is caught before the API takes traffic.
func openStore(c *cli.Context) (ledger.Store, error) {
	dbURL := flags.ReadDbURL(c)
	if dbURL == "" {
		log.Warn("No database URL configured, running on the in-memory ledger. State is lost on shutdown")
		return ledger.NewMemoryStore(), nil
	}

	database, err := db.Open(dbURL)
	if err != nil {
		return nil, err
	}

	if c.Bool("db.migrateup") {
		if err := database.MigrateUp(); err != nil {
			_ = database.Close()
			return nil, err
		}
	}

	status, err := database.MigrationStatus()
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("could not query DB migration status, run `hgd db up` first: %w", err)
	}
	if status.Dirty {
		_ = database.Close()
		return nil, fmt.Errorf("database schema is dirty at version %d, resolve it with `hgd db forceversion`", status.Version)
	}

	log.WithField("version", status.Version).Info("Opened database")
	return ledger.NewSQLStore(database), nil
}

func Serve() cli.Command {
	serve := cli.Command{
		Name:  "serve",
		Usage: "Starts the credit metering api",
		Action: func(c *cli.Context) error {
			network, err := flags.ReadNetwork(c)
			if err != nil {
				return err
			}

			serverAccount, err := hbar.ParseAccountID(c.String("serveraccount"))
			if err != nil {
				return fmt.Errorf("bad serveraccount flag: %w", err)
			}

			rawAdmins := c.StringSlice("admin")
			admins := make([]string, 0, len(rawAdmins))
			for _, admin := range rawAdmins {
				parsed, err := hbar.ParseAccountID(admin)
				if err != nil {
					return fmt.Errorf("bad admin flag %q: %w", admin, err)
				}
				admins = append(admins, parsed)
			}

			mirrorConf, err := flags.ReadMirrorConf(c)
			if err != nil {
				return err
			}
			mirrorClient, err := mirror.NewClient(mirrorConf)
			if err != nil {
				return err
			}
			if err := awaitMirror(mirrorClient); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"network": network,
				"url":     mirrorConf.BaseURL,
			}).Info("Mirror node is reachable")

			// the execution node is optional: without one, hgd still
			// serves billing and payments, and priced operations fail
			// up front
			var collaborator facade.Collaborator
			if url := c.String("executor.url"); url != "" {
				executorClient, err := executor.NewClient(executor.Config{BaseURL: url})
				if err != nil {
					return err
				}
				if err := awaitExecutor(executorClient); err != nil {
					return err
				}
				log.WithField("url", url).Info("Execution node is reachable")
				collaborator = executorClient
			} else {
				log.Warn("No execution node configured, operations without an in-process handler will fail")
			}

			store, err := openStore(c)
			if err != nil {
				return err
			}

			manager := credits.NewManager(credits.Config{
				Pricing:           pricing.DefaultConfig(c.Float64("credits.conversionrate"), network),
				ServerAccountID:   serverAccount,
				ReconcileInterval: time.Duration(c.Int("reconcileintervalms")) * time.Millisecond,
				MaxPendingAge:     time.Duration(c.Int("maxpendingagesec")) * time.Second,
			}, store, mirrorClient, mirrorClient)
			defer func() {
				if closeErr := manager.Close(); closeErr != nil {
					log.WithError(closeErr).Error("Could not close credit manager")
				}
			}()

			if err := manager.Initialize(context.Background()); err != nil {
				return err
			}
			manager.StartReconciler()

			builder, err := deposits.NewBuilder(deposits.Config{
				ServerAccountID: serverAccount,
				Network:         network,
				MinPayment:      c.Float64("payment.min"),
				MaxPayment:      c.Float64("payment.max"),
			}, manager)
			if err != nil {
				return err
			}

			operations := facade.NewFacade(facade.Config{
				Admins:  admins,
				Network: network,
			}, manager, collaborator)

			a, err := api.NewApp(manager, builder, operations, api.Config{
				Network:     network,
				CORSOrigins: c.StringSlice("cors.origin"),
			})
			if err != nil {
				return err
			}

			if c.Bool("dummy.gen-data") {
				if network != "mainnet" {
					seed := c.Bool("dummy.force")
					if !seed {
						fmt.Println("Are you sure you want to fill dummy data? y/n")
						seed = askForConfirmation()
					}
					if seed {
						if err := dummy.FillWithData(store, network, c.Bool("dummy.only-once")); err != nil {
							return err
						}
					} else {
						log.Info("Not populating the ledger with dummy data")
					}
				} else {
					log.Warn("dummy.gen-data flag is set, but network is mainnet")
				}
			}

			address := fmt.Sprintf(":%d", c.Int("port"))
			server := &http.Server{
				Addr:    address,
				Handler: a.Router,
			}

			serveErr := make(chan error, 1)
			go func() {
				if os.Getenv(gin.EnvGinMode) == gin.ReleaseMode {
					// certs generated by certbot
					serveErr <- server.ListenAndServeTLS(
						c.String("tls-cert-file"),
						c.String("tls-key-file"))
				} else {
					serveErr <- server.ListenAndServe()
				}
			}()
			log.WithField("address", address).Info("Serving the hashgate API")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serveErr:
				return err
			case sig := <-quit:
				log.WithField("signal", sig.String()).Info("Shutting down")

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					return fmt.Errorf("could not drain open requests: %w", err)
				}
				return nil
			}
		},
	}

	baseFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "port",
			Value: 5000,
			Usage: "Port number to listen on",
		},
		cli.StringFlag{
			Name:     "serveraccount",
			Usage:    "Hedera account deposits are paid to, e.g. 0.0.12345",
			EnvVar:   "HASHGATE_SERVER_ACCOUNT",
			Required: true,
		},
		cli.StringSliceFlag{
			Name:  "admin",
			Usage: "Account allowed to hit admin routes and bill other accounts. Repeatable",
		},
		cli.Float64Flag{
			Name:  "credits.conversionrate",
			Value: 1000,
			Usage: "Base credits granted per USD of deposited HBAR",
		},
		cli.Float64Flag{
			Name:  "payment.min",
			Usage: "Minimum accepted payment in HBAR. Zero uses the built-in default",
		},
		cli.Float64Flag{
			Name:  "payment.max",
			Usage: "Maximum accepted payment in HBAR. Zero uses the built-in default",
		},
		cli.IntFlag{
			Name:  "reconcileintervalms",
			Value: 30_000,
			Usage: "Milliseconds between payment reconciliation sweeps",
		},
		cli.IntFlag{
			Name:  "maxpendingagesec",
			Value: 300,
			Usage: "Seconds a pending payment may age before the reconciler fails it",
		},
		cli.StringSliceFlag{
			Name:  "cors.origin",
			Usage: "Origin allowed to call the API from a browser. Repeatable",
		},

		// dummy data generation
		cli.BoolFlag{
			Name:  "dummy.gen-data",
			Usage: "If the ledger should be populated with dummy data. Refused on mainnet",
		},
		cli.BoolFlag{
			Name:  "dummy.force",
			Usage: "Don't ask for confirmation before populating with dummy data",
		},
		cli.BoolFlag{
			Name:  "dummy.only-once",
			Usage: "Only fill with dummy data if the ledger is empty",
		},

		cli.StringFlag{
			Name:      "tls-cert-file",
			EnvVar:    "HASHGATE_TLS_CERT_FILE",
			Usage:     "Path to TLS cert file",
			TakesFile: true,
			Required:  os.Getenv(gin.EnvGinMode) == gin.ReleaseMode,
		},
		cli.StringFlag{
			Name:     "tls-key-file",
			EnvVar:   "HASHGATE_TLS_KEY_FILE",
			Usage:    "Path to TLS key file",
			Required: os.Getenv(gin.EnvGinMode) == gin.ReleaseMode,
		},
	}

	serve.Flags = flags.Concat(baseFlags, flags.Db, flags.Mirror, flags.Executor)
	return serve
}
