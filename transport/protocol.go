package transport

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/fernwer/Duet/payload"
)

// Requests are one line "<entry> <hex payload>\n". Responses are one line
// "OK <quoted result>\n" or "ERR <quoted message>\n".

const (
	statusOK  = "OK"
	statusErr = "ERR"
)

func writeRequest(w *bufio.Writer, entry payload.Entry, hexPayload string) error {
	if _, err := fmt.Fprintf(w, "%s %s\n", entry, hexPayload); err != nil {
		return err
	}
	return w.Flush()
}

func parseRequest(line string) (payload.Entry, string, error) {
	name, hexPayload, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return "", "", fmt.Errorf("%w: request without payload", ErrProtocol)
	}
	entry, err := payload.ParseEntry(name)
	if err != nil {
		return "", "", err
	}
	return entry, hexPayload, nil
}

func writeResponse(w *bufio.Writer, result string, callErr error) error {
	status, text := statusOK, result
	if callErr != nil {
		status, text = statusErr, callErr.Error()
	}
	if _, err := fmt.Fprintf(w, "%s %s\n", status, strconv.Quote(text)); err != nil {
		return err
	}
	return w.Flush()
}

func parseResponse(line string) (string, error) {
	status, quoted, ok := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	text, err := strconv.Unquote(quoted)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	switch status {
	case statusOK:
		return text, nil
	case statusErr:
		return "", fmt.Errorf("%w: %s", ErrRemote, text)
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrProtocol, status)
}
