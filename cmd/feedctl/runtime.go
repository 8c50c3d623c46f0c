package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/chirper/feedsync/internal/app"
	"github.com/chirper/feedsync/internal/auth"
	"github.com/chirper/feedsync/internal/config"
	"github.com/chirper/feedsync/internal/db"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/logger"
	"github.com/chirper/feedsync/internal/metrics"
	"github.com/chirper/feedsync/internal/models"
	"github.com/chirper/feedsync/internal/repository"
	"github.com/chirper/feedsync/internal/session"
)

// runtime is one command's view of the app: the opened stores, the session
// and a private metrics registry.
type runtime struct {
	ctx     context.Context
	stop    context.CancelFunc
	gf      *globalFlags
	appCtx  *app.AppContext
	metrics *metrics.Metrics
	session *session.Session
	users   *repository.IdentityRepository
}

// open builds the runtime for cmd. ctx is cancelled on SIGINT/SIGTERM.
func open(cmd *cobra.Command, gf *globalFlags) (*runtime, error) {
	cfg := config.New()
	if gf.store != "" {
		cfg.Store.Driver = gf.store
	}
	if !gf.verbose && os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}
	logger.InitFromConfig(cfg)
	log := logger.L()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	appCtx, err := app.Open(ctx, cfg, log, m)
	if err != nil {
		stop()
		return nil, err
	}

	rt := &runtime{
		ctx:     ctx,
		stop:    stop,
		gf:      gf,
		appCtx:  appCtx,
		metrics: m,
		users:   repository.NewIdentityRepository(appCtx.Store),
	}
	if cfg.Store.Driver == app.DriverMemory && !gf.noDemo {
		err := db.SeedDemoData(ctx, appCtx.DB, appCtx.Store, db.SeedOptions{Cost: bcrypt.MinCost, Seed: 1, Logger: log})
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("seed memory store: %w", err)
		}
	}

	rt.session = session.New(appCtx, nil)
	rt.session.Init(ctx)
	return rt, nil
}

func (rt *runtime) close() {
	if rt.session != nil {
		rt.session.Teardown()
	}
	rt.appCtx.Close()
	rt.stop()
}

func (rt *runtime) credentials() auth.Credentials {
	return auth.Credentials{Email: rt.gf.email, Password: rt.gf.password, IDToken: rt.gf.idToken}
}

// signIn signs in with the global credentials and waits until the identity
// is provisioned.
func (rt *runtime) signIn() (*models.Identity, error) {
	creds := rt.credentials()
	if creds.Email == "" && creds.IDToken == "" {
		return nil, fmt.Errorf("%w: --email/--password or --id-token required", svcErr.ErrUnauthenticated)
	}
	if _, err := rt.session.SignIn(rt.ctx, creds); err != nil {
		return nil, err
	}
	return rt.awaitIdentity()
}

// signedIn signs in when credentials were given and returns nil otherwise.
func (rt *runtime) signedIn() (*models.Identity, error) {
	if rt.gf.email == "" && rt.gf.idToken == "" {
		return nil, nil
	}
	return rt.signIn()
}

func (rt *runtime) awaitIdentity() (*models.Identity, error) {
	st, err := rt.session.WaitFor(rt.ctx, func(st session.State) bool { return st.Status != session.Loading })
	if err != nil {
		return nil, err
	}
	if st.Status != session.Authenticated {
		if st.Err != nil {
			return nil, st.Err
		}
		return nil, svcErr.ErrUnauthenticated
	}
	return st.Identity, nil
}

// lookup resolves @username or a raw uid.
func (rt *runtime) lookup(name string) (*models.Identity, error) {
	user, err := rt.users.FindByUsername(rt.ctx, name)
	if svcErr.Is(err, svcErr.ErrNotFound) {
		if byID, idErr := rt.users.Get(rt.ctx, name); idErr == nil {
			return byID, nil
		}
	}
	return user, err
}

// run opens a runtime around fn and closes it afterwards.
func run(gf *globalFlags, fn func(cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := open(cmd, gf)
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(cmd, rt, args)
	}
}

var (
	bold   = color.New(color.Bold).SprintFunc()
	handle = color.New(color.FgCyan).SprintFunc()
	faint  = color.New(color.FgHiBlack).SprintFunc()
	accent = color.New(color.FgMagenta).SprintFunc()
)
