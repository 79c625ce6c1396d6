package piston

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

type resolvedExecute struct {
	*ExecuteResponse
	runMissing bool
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// resolveExecute turns a POST /execute response into a result or a classified error.
func resolveExecute(resp *http.Response) (*resolvedExecute, error) {
	if !isSuccess(resp.StatusCode) {
		return nil, classifyExecute(resp.StatusCode, readErrorBody(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newNetworkError(fmt.Errorf("reading response body: %w", err))
	}

	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, newUnexpectedError(resp.StatusCode, "decoding response: "+err.Error(), err)
	}

	return &resolvedExecute{
		ExecuteResponse: fromWireResponse(&w),
		runMissing:      w.Run == nil,
	}, nil
}

// resolveRuntimes turns a GET /runtimes response into the catalog or a classified error.
func resolveRuntimes(resp *http.Response) ([]RuntimeInfo, error) {
	if !isSuccess(resp.StatusCode) {
		return nil, classifyRuntimes(resp.StatusCode, readErrorBody(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newNetworkError(fmt.Errorf("reading response body: %w", err))
	}

	var runtimes []RuntimeInfo
	if err := json.Unmarshal(body, &runtimes); err != nil {
		return nil, newUnexpectedError(resp.StatusCode, "decoding response: "+err.Error(), err)
	}
	if runtimes == nil {
		runtimes = []RuntimeInfo{}
	}
	return runtimes, nil
}

// errorBody describes what an error response carried.
type errorBody struct {
	message string
	// decoded is true when the body was a JSON object; the message may still be empty.
	decoded bool
	// synthesized is "HTTP <code>: <status text>".
	synthesized string
}

// text returns the body's message, or the synthesized one.
func (b errorBody) text() string {
	if b.message != "" {
		return b.message
	}
	return b.synthesized
}

// orDefault returns the body's message. A JSON body without one yields def;
// an undecodable body yields the synthesized message.
func (b errorBody) orDefault(def string) string {
	switch {
	case b.message != "":
		return b.message
	case b.decoded:
		return def
	default:
		return b.synthesized
	}
}

// classifyExecute maps a failed POST /execute to its error kind.
func classifyExecute(status int, body errorBody) *Error {
	switch status {
	case http.StatusBadRequest:
		return newValidationError(body.text())
	case http.StatusUnsupportedMediaType:
		return newContentTypeError(body.orDefault(defaultContentTypeMessage))
	case http.StatusInternalServerError:
		return newServerError(body.orDefault(defaultServerMessage))
	default:
		return newUnexpectedError(status, body.text(), nil)
	}
}

// classifyRuntimes maps a failed GET /runtimes. The catalog takes no body, so
// there is no validation or content-type case.
func classifyRuntimes(status int, body errorBody) *Error {
	switch status {
	case http.StatusInternalServerError:
		return newServerError(body.orDefault(defaultServerMessage))
	default:
		return newUnexpectedError(status, body.text(), nil)
	}
}

// readErrorBody extracts {"message": ...} from an error response. A read or
// decode failure only degrades the message, never the classification.
func readErrorBody(resp *http.Response) errorBody {
	b := errorBody{synthesized: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, statusText(resp))}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return b
	}

	var w *wireError
	if err := json.Unmarshal(data, &w); err != nil || w == nil {
		return b
	}
	b.decoded = true
	b.message = w.Message
	return b
}

// statusText returns the reason phrase the server sent, or the standard one.
func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
