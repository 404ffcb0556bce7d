package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/kuitang/storefront-e2e/internal/errs"
)

// classify maps a mail API failure onto the shared error codes:
// credentials problems are Configuration, throttling and outages are Unavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var coded *errs.Error
	if errors.As(err, &coded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" || re.ErrorCode == "unauthorized_client" {
			return errs.Wrap(errs.Configuration, op+": Gmail token rejected; run `"+AuthorizeCommand+"` again", err)
		}
		if re.Response != nil && (re.Response.StatusCode >= 500 || re.Response.StatusCode == http.StatusTooManyRequests) {
			return errs.Wrap(errs.Unavailable, op+": token refresh unavailable", err)
		}
		return errs.Wrap(errs.Configuration, op+": token refresh failed", err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return errs.Wrap(errs.Configuration, op+": Gmail rejected credentials", err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return errs.Wrap(errs.Unavailable, op+": Gmail unavailable", err)
		case gerr.Code == http.StatusNotFound:
			return errs.Wrap(errs.NotFound, op, err)
		default:
			return errs.Wrap(errs.Internal, op, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Unavailable, op+": interrupted", err)
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return errs.Wrap(errs.Unavailable, op+": network error", err)
	}
	return errs.Wrap(errs.Internal, op, err)
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
