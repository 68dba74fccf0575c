package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/httputil"
)

// classify wraps a raw transport error into a *contracts.ProviderError
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *contracts.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	out := &contracts.ProviderError{Provider: provider, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = contracts.ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		out.Kind = contracts.ErrTimeout
	}

	var se *httputil.StatusError
	if errors.As(err, &se) {
		out.StatusCode = se.StatusCode
		out.Kind = kindForStatus(se.StatusCode)
	}
	return out
}

func kindForStatus(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return contracts.ErrRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return contracts.ErrTimeout
	}
	return nil
}
