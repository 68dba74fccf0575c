package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/httputil"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// ErrNoPayload is returned when no payload exists for the symbol
var ErrNoPayload = errors.New("no market payload")

const dateLayout = "2006-01-02"

// FileSource reads JSON payloads from a directory.
// Lookup order: <dir>/<SYMBOL>_<YYYY-MM-DD>.json, then <dir>/<SYMBOL>.json.
type FileSource struct {
	dir    string
	logger *logger.Logger
}

// NewFileSource creates a directory-backed source
func NewFileSource(dir string, log *logger.Logger) *FileSource {
	return &FileSource{dir: dir, logger: log}
}

// Fetch implements contracts.UpstreamSource
func (s *FileSource) Fetch(ctx context.Context, symbol string, asOf time.Time) (*contracts.MarketPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []string
	if !asOf.IsZero() {
		candidates = append(candidates, filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", symbol, asOf.Format(dateLayout))))
	}
	candidates = append(candidates, filepath.Join(s.dir, symbol+".json"))

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}

		var p contracts.MarketPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		s.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"file":   filepath.Base(path),
		}).Debug("Loaded market payload")
		return normalize(&p, symbol, asOf), nil
	}

	return nil, fmt.Errorf("%w for %s in %s", ErrNoPayload, symbol, s.dir)
}

// HTTPSource fetches payloads from GET <baseURL>/<symbol>?as_of=YYYY-MM-DD
type HTTPSource struct {
	client  *httputil.Client
	baseURL string
}

// NewHTTPSource creates an HTTP-backed source
func NewHTTPSource(client *httputil.Client, baseURL string) *HTTPSource {
	return &HTTPSource{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Fetch implements contracts.UpstreamSource
func (s *HTTPSource) Fetch(ctx context.Context, symbol string, asOf time.Time) (*contracts.MarketPayload, error) {
	u := s.baseURL + "/" + url.PathEscape(symbol)
	if !asOf.IsZero() {
		u += "?as_of=" + asOf.Format(dateLayout)
	}

	var p contracts.MarketPayload
	if err := s.client.GetJSON(ctx, u, &p); err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) && se.StatusCode == 404 {
			return nil, fmt.Errorf("%w for %s", ErrNoPayload, symbol)
		}
		return nil, fmt.Errorf("fetch payload %s: %w", symbol, err)
	}
	return normalize(&p, symbol, asOf), nil
}

// normalize fills the symbol and, when the caller pinned a date, the as-of
func normalize(p *contracts.MarketPayload, symbol string, asOf time.Time) *contracts.MarketPayload {
	if p.Symbol == "" {
		p.Symbol = symbol
	}
	if !asOf.IsZero() {
		d := asOf
		p.AsOf = &d
	}
	return p
}
