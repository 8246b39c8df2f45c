// Command onboard serves the public side of the X login flow: the login
// page, the redirect into the provider, and the callback that completes the
// flow via the trusted exchange service.
package main

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lenxapp/onboard/config"
	"github.com/lenxapp/onboard/exchange"
	"github.com/lenxapp/onboard/session"
	"github.com/lenxapp/onboard/web"
)

func main() {
	log := logrus.StandardLogger()

	cfg, err := config.LoadApp()
	if err != nil {
		log.WithError(err).Fatal("loading configuration failed")
	}
	if cfg.EphemeralCookieKey {
		log.Warn("COOKIE_KEYS not set, using an ephemeral key; sessions will not survive a restart")
	}
	if cfg.ClientID == "" {
		log.Warn("X_CLIENT_ID not set, login attempts will fail until it is configured")
	}

	stores, err := storeFactory(cfg)
	if err != nil {
		log.WithError(err).Fatal("building session store failed")
	}

	client := exchange.NewClient(cfg.ExchangeURL, cfg.RedirectURI())
	handler, err := web.New(web.Config{
		ClientID:            cfg.ClientID,
		AuthorizeURL:        cfg.AuthorizeURL,
		RedirectURI:         cfg.RedirectURI(),
		Scopes:              cfg.Scopes,
		AllowInsecureRandom: cfg.AllowInsecureRandom,
	}, stores, client, client, web.WithLogger(log))
	if err != nil {
		log.WithError(err).Fatal("building handler failed")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	log.WithField("addr", cfg.ListenAddr).Info("onboard listening")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func storeFactory(cfg *config.App) (web.StoreFactory, error) {
	secure := !cfg.InsecureCookies
	if cfg.SessionStore == config.StoreRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return web.RedisStores(redis.NewClient(opts), secure), nil
	}

	attempt, err := session.NewCookie("onboard_attempt", cfg.CookieKeyID, cfg.CookieKeys, session.WithSecure(secure))
	if err != nil {
		return nil, err
	}
	record, err := session.NewCookie("onboard_auth", cfg.CookieKeyID, cfg.CookieKeys, session.WithSecure(secure))
	if err != nil {
		return nil, err
	}
	return web.CookieStores(attempt, record), nil
}
