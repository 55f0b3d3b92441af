package register

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ligun0805/incentiv-bot/internal/api"
	"github.com/ligun0805/incentiv-bot/internal/config"
	"github.com/ligun0805/incentiv-bot/internal/logging"
	"github.com/ligun0805/incentiv-bot/internal/proxy"
	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

// NetConnector builds API clients through the wallet's proxy. With RotateOnFailure, a proxy that
// fails the connectivity probe is replaced until one passes or every proxy was tried.
type NetConnector struct {
	Settings        config.Settings
	Proxies         *proxy.Rotator
	Log             logrus.FieldLogger
	RotateOnFailure bool
}

func (n *NetConnector) Connect(ctx context.Context, w *wallet.Wallet) (Remote, string, error) {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	key := w.Address.Hex()
	rot := n.Proxies
	if rot == nil {
		rot = proxy.NewRotator(nil)
	}
	net := n.Settings.Network
	timeout := time.Duration(net.HTTPTimeout) * time.Second
	log := n.Log.WithField("acc", logging.ShortAddr(key))

	p := rot.Assign(key)
	if rot.Len() > 0 {
		var err error
		for tries := 0; ; tries++ {
			if err = proxy.Check(ctx, rot.HTTPClient(key, timeout), net.PageURL); err == nil {
				break
			}
			if !n.RotateOnFailure || tries+1 >= rot.Len() {
				return nil, p, fmt.Errorf("proxy %s: %w", proxy.Mask(p), err)
			}
			p = rot.Rotate(key)
			log.Infof("proxy unreachable, rotated to %s", proxy.Mask(p))
		}
	}

	pause := func() time.Duration { return n.Settings.Settings.PauseBetweenAttempts.Duration(rng) }
	client := api.New(api.Config{
		BaseURL:   net.APIURL,
		PageURL:   net.PageURL,
		HTTP:      rot.HTTPClient(key, timeout),
		UserAgent: api.RandomUserAgent(rng),
		Attempts:  n.Settings.Settings.Attempts,
		NextDelay: pause,
		Logf:      logging.Logf(log),
	})
	return client, p, nil
}
