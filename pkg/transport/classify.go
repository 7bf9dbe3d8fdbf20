package transport

import (
	"io"
	"net/http"

	dErrors "pims/pkg/domain-errors"
	pstrings "pims/pkg/platform/strings"
)

// serverErrorCap bounds the message relayed for unrecognized failure
// statuses. Some PIMS failure modes return multi-kilobyte HTML pages.
const serverErrorCap = 300

// CheckResponse maps a PIMS response onto the error taxonomy. 2xx passes
// through with the body; everything else becomes a typed error. The body is
// consumed either way.
func CheckResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "read response body")
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return body, nil
	case http.StatusBadRequest:
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "bad request: %s", string(body))
	case http.StatusUnauthorized:
		return nil, dErrors.New(dErrors.CodeUnauthorized,
			"credentials were not accepted by the server")
	case http.StatusForbidden:
		return nil, dErrors.Newf(dErrors.CodeForbidden, "operation forbidden: %s", string(body))
	case http.StatusNotFound:
		return nil, dErrors.Newf(dErrors.CodeNotFound, "resource not found: %s", string(body))
	case http.StatusMethodNotAllowed:
		return nil, dErrors.Newf(dErrors.CodeMethodNotSupported,
			"operation not supported: %s", string(body))
	default:
		msg, terr := pstrings.Truncate(
			"server returned status "+resp.Status+": "+string(body), serverErrorCap)
		if terr != nil {
			return nil, dErrors.Wrap(terr, dErrors.CodeInternal, "bad truncation cap")
		}
		return nil, dErrors.New(dErrors.CodeServer, msg)
	}
}
