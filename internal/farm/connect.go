package farm

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ligun0805/incentiv-bot/internal/api"
	"github.com/ligun0805/incentiv-bot/internal/bundler"
	"github.com/ligun0805/incentiv-bot/internal/chain"
	"github.com/ligun0805/incentiv-bot/internal/config"
	"github.com/ligun0805/incentiv-bot/internal/logging"
	"github.com/ligun0805/incentiv-bot/internal/proxy"
	"github.com/ligun0805/incentiv-bot/internal/session"
	"github.com/ligun0805/incentiv-bot/internal/userop"
	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

// NetConnector wires the real API, node and bundler clients through the account's proxy.
type NetConnector struct {
	Settings config.Settings
	// Proxies may be nil for direct connections.
	Proxies  *proxy.Rotator
	Sessions *session.Manager
	Limiter  *rate.Limiter
	Log      logrus.FieldLogger
	// RotateOnFailure moves an account to the next proxy between failed login attempts.
	RotateOnFailure bool
}

func (n *NetConnector) Connect(ctx context.Context, w *wallet.Wallet) (*Conn, error) {
	rng := newRand()
	key := w.Address.Hex()
	rot := n.Proxies
	if rot == nil {
		rot = proxy.NewRotator(nil)
	}
	p := rot.Assign(key)
	log := n.Log.WithField("acc", logging.ShortAddr(key))
	logf := logging.Logf(log)

	net := n.Settings.Network
	timeout := time.Duration(net.HTTPTimeout) * time.Second
	hc := rot.HTTPClient(key, timeout)
	ua := api.RandomUserAgent(rng)

	pause := func() time.Duration { return n.Settings.Settings.PauseBetweenAttempts.Duration(rng) }
	client := api.New(api.Config{
		BaseURL:   net.APIURL,
		PageURL:   net.PageURL,
		HTTP:      hc,
		UserAgent: ua,
		Attempts:  n.Settings.Settings.Attempts,
		NextDelay: pause,
		Logf:      logf,
	})
	sess := n.Sessions.Session(w, client)
	sess.Attempts = n.Settings.Settings.Attempts
	sess.OnRetry = func(attempt int, err error) {
		log.Debugf("login attempt %d failed: %s", attempt, ClassifyError(err))
		if sleepCtx(ctx, pause()) != nil {
			return
		}
		if n.RotateOnFailure && rot.Len() > 0 {
			log.Infof("rotating proxy to %s", proxy.Mask(rot.Rotate(key)))
		}
	}
	client.SetAuthenticator(sess)

	reader, err := chain.Dial(net.RPCURL, hc, n.Limiter)
	if err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}
	reader.Logf = logf

	bc := bundler.NewClient(net.BundlerURL, userop.EntryPoint, hc)
	bc.Header.Set("Origin", net.PageURL)
	bc.Header.Set("Referer", net.PageURL+"/")
	bc.Header.Set("User-Agent", ua)
	bc.Attempts = n.Settings.Settings.Attempts
	bc.Logf = logf

	conn := &Conn{
		Remote:  client,
		Chain:   reader,
		Bundler: bc,
		Session: sess,
		Proxy:   p,
		Close:   reader.Close,
	}
	if rot.Len() > 0 {
		conn.Rotate = func() string { return rot.Rotate(key) }
	}
	return conn, nil
}
