// Пакет imgclient — HTTP-клиент для загрузки изображений lineup.
// Запросы идут без учётных данных и cookies, с cache-busting параметром
// и ограничением размера тела. Поддерживает TLS с кастомным CA
// (LX_IMAGE_CA_CERT_PATH) и ограничение частоты запросов.
package imgclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// Ошибки клиента изображений.
var (
	// ErrUnsupportedScheme — URL не http/https (data:, blob:, относительный путь).
	ErrUnsupportedScheme = errors.New("неподдерживаемая схема URL")
	// ErrStatus — сервер вернул не-2xx статус.
	ErrStatus = errors.New("неуспешный статус ответа")
	// ErrTooLarge — тело ответа превышает допустимый размер.
	ErrTooLarge = errors.New("изображение превышает допустимый размер")
	// ErrBlockedAddress — хост разрешился во внутренний адрес (loopback, частная сеть, metadata).
	ErrBlockedAddress = errors.New("адрес назначения запрещён")
)

// CacheBustParam — имя query-параметра для обхода кэшей.
const CacheBustParam = "t"

// Client — HTTP-клиент для загрузки изображений.
type Client struct {
	httpClient *http.Client
	maxBytes   int64
	limiter    *rate.Limiter
	now        func() time.Time
	logger     *slog.Logger
}

// New создаёт клиент изображений.
// caCertPath — путь к CA-сертификату (пустая строка — стандартный пул).
// timeout — таймаут одного запроса (LX_IMAGE_FETCH_TIMEOUT).
// maxBytes — лимит размера тела (0 — без лимита).
// limiter — ограничитель частоты (nil — без ограничения).
// allowedNets — внутренние сети, в которые разрешены запросы (LX_IMAGE_ALLOWED_CIDRS);
// остальные непубличные адреса отклоняются при установке соединения.
func New(
	caCertPath string,
	timeout time.Duration,
	maxBytes int64,
	limiter *rate.Limiter,
	allowedNets []netip.Prefix,
	logger *slog.Logger,
) (*Client, error) {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		// Проверка выполняется после DNS-резолва для каждого соединения,
		// включая переходы по редиректам
		Control: dialControl(allowedNets),
	}
	// Proxy не используется: иначе проверялся бы адрес прокси, а не хоста изображения
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 5,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата хоста изображений: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат хоста изображений добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		// Jar не задан: cookies не отправляются и не сохраняются
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		maxBytes: maxBytes,
		limiter:  limiter,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "image_client")),
	}, nil
}

// Fetch загружает изображение по URL.
// Возвращает тело и заявленный Content-Type ответа.
// Ошибки контекста возвращаются как есть (errors.Is(err, context.Canceled)).
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	reqURL, err := c.bustURL(rawURL)
	if err != nil {
		return nil, "", err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			return nil, "", fmt.Errorf("ожидание rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("создание запроса изображения: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G107: URL из записи lineup
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("запрос изображения: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Дочитываем небольшой остаток, чтобы соединение вернулось в пул
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		return nil, "", fmt.Errorf("%w: Content-Length %d > %d", ErrTooLarge, resp.ContentLength, c.maxBytes)
	}

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("чтение тела изображения: %w", err)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, "", fmt.Errorf("%w: больше %d байт", ErrTooLarge, c.maxBytes)
	}

	c.logger.Debug("Изображение загружено",
		slog.String("host", req.URL.Host),
		slog.Int("bytes", len(data)),
		slog.String("content_type", resp.Header.Get("Content-Type")),
	)

	return data, resp.Header.Get("Content-Type"), nil
}

// bustURL добавляет параметр t=<unix millis>, сохраняя остальные параметры.
func (c *Client) bustURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("разбор URL изображения: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: пустой хост", ErrUnsupportedScheme)
	}

	q := u.Query()
	q.Set(CacheBustParam, strconv.FormatInt(c.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// dialControl возвращает проверку адреса соединения.
// Запрещены loopback, частные, link-local (в т.ч. 169.254.169.254),
// unspecified, multicast и CGNAT адреса, кроме сетей из allowed.
func dialControl(allowed []netip.Prefix) func(network, address string, c syscall.RawConn) error {
	return func(_, address string, _ syscall.RawConn) error {
		addrPort, err := netip.ParseAddrPort(address)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
		}
		addr := addrPort.Addr().Unmap()
		for _, p := range allowed {
			if p.Contains(addr) {
				return nil
			}
		}
		if !isPublicAddr(addr) {
			return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
		}
		return nil
	}
}

// cgnatPrefix — shared address space (RFC 6598).
var cgnatPrefix = netip.MustParsePrefix("100.64.0.0/10")

func isPublicAddr(addr netip.Addr) bool {
	switch {
	case !addr.IsValid(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		addr.IsUnspecified(),
		cgnatPrefix.Contains(addr):
		return false
	}
	return true
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("в %s нет PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
