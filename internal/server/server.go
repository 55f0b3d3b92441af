// Package server exposes run statistics over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ligun0805/incentiv-bot/internal/metrics"
	"github.com/ligun0805/incentiv-bot/internal/store"
)

const accountActions = 50

// Store is the read side of the database used by the handlers.
type Store interface {
	Summary() (store.Summary, error)
	Accounts() ([]store.Account, error)
	Account(address string) (*store.Account, error)
	Actions(f store.ActionFilter) ([]store.ActionRecord, error)
}

type handlers struct {
	st  Store
	log logrus.FieldLogger
}

// New builds the router. m may be nil, in which case /metrics is not mounted.
func New(st Store, m *metrics.Metrics, log logrus.FieldLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	h := &handlers{st: st, log: log}
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/stats", h.stats)
	router.GET("/accounts", h.accounts)
	router.GET("/accounts/:address", h.account)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}
	return router
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Microsecond),
		}).Debugf("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	h.log.Errorf("%s: %v", c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *handlers) stats(c *gin.Context) {
	sum, err := h.st.Summary()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *handlers) accounts(c *gin.Context) {
	accs, err := h.st.Accounts()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(accs), "accounts": accs})
}

func (h *handlers) account(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	acc, err := h.st.Account(common.HexToAddress(raw).Hex())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		} else {
			h.fail(c, err)
		}
		return
	}

	limit := accountActions
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	actions, err := h.st.Actions(store.ActionFilter{AccountID: acc.ID, Kind: c.Query("kind"), Limit: limit})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acc, "actions": actions})
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
