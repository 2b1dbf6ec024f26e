package exchange

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"spotarb/pkg/ratelimit"
)

// HTTPClientConfig - настройки HTTP клиента для REST-вызовов бирж
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration
	TotalTimeout        time.Duration
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig - выводы делаются редко, поэтому пул небольшой
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		TotalTimeout:        15 * time.Second,
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewHTTPClient создаёт *http.Client с пулом соединений
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Transport: transport, Timeout: cfg.TotalTimeout}
}

var (
	globalClient     *http.Client
	globalClientOnce sync.Once
)

// GetGlobalHTTPClient - общий клиент, чтобы шлюзы делили пул соединений
func GetGlobalHTTPClient() *http.Client {
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalClient
}

// restClient - подписанные REST-вызовы одной биржи
type restClient struct {
	exchange string
	baseURL  string
	http     *http.Client
	limiter  *ratelimit.RateLimiter
}

func newRESTClient(exchange, baseURL string, client *http.Client) *restClient {
	if client == nil {
		client = GetGlobalHTTPClient()
	}
	return &restClient{
		exchange: exchange,
		baseURL:  baseURL,
		http:     client,
		limiter:  ratelimit.NewRateLimiter(5, 5),
	}
}

// do выполняет запрос. Любой сбой транспорта возвращается как NetworkError;
// HTTP-статус и тело отдаются вызывающему для разбора ошибок биржи.
func (c *restClient) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, newNetworkError(c.exchange, err)
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return 0, nil, newNetworkError(c.exchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, newNetworkError(c.exchange, fmt.Errorf("read body: %w", err))
	}
	return resp.StatusCode, body, nil
}
