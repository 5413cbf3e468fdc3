package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	topicHeader  = "apns-topic"
	devicePath   = "/3/device/"
	maxErrorBody = 64 << 10
)

// SendRaw delivers payload, which must already be the JSON notification
// body, to token.
//
// Transport failures are reported as a ResultTransport value. The returned
// error is reserved for misuse (closed session, malformed token) and for a
// *ContractError when the gateway answers outside its documented contract.
func (s *Session) SendRaw(ctx context.Context, token Token, payload []byte) (MessageResult, error) {
	return s.dispatch(ctx, token, payload)
}

// Send serializes msg and delivers it to token.
func (s *Session) Send(ctx context.Context, token Token, msg *Message) (MessageResult, error) {
	body, err := msg.MarshalJSON()
	if err != nil {
		return MessageResult{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.dispatch(ctx, token, body)
}

// SendSilent delivers a background notification with no visible alert.
func (s *Session) SendSilent(ctx context.Context, token Token) (MessageResult, error) {
	return s.dispatch(ctx, token, silentPayload)
}

func (s *Session) dispatch(ctx context.Context, token Token, body []byte) (MessageResult, error) {
	if !s.IsOpen() {
		return MessageResult{}, ErrSessionClosed
	}
	token, err := token.Normalize()
	if err != nil {
		return MessageResult{}, err
	}
	req, err := s.newRequest(ctx, token, body)
	if err != nil {
		return MessageResult{}, err
	}

	c, err := s.borrow(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return MessageResult{}, err
		}
		s.logger.Warn("Failed to obtain gateway connection", "err", err)
		return transportFailure(err), nil
	}
	defer s.giveBack(c)

	if err := c.acquire(ctx); err != nil {
		return transportFailure(err), nil
	}
	s.inFlight.Add(1)
	defer func() {
		s.inFlight.Add(-1)
		c.release()
	}()

	res, err := s.exchange(c, req)
	if err != nil {
		s.logger.Error("Gateway contract violation", "connection_id", c.ID(), "err", err)
		return MessageResult{}, err
	}
	s.logger.Debug("Notification dispatched", "token", token, "connection_id", c.ID(), "result", res.String())
	return res, nil
}

func (s *Session) newRequest(ctx context.Context, token Token, body []byte) (*http.Request, error) {
	u := url.URL{Scheme: "https", Host: s.info.Host, Path: devicePath + string(token)}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(topicHeader, string(s.info.Topic))
	// an empty value suppresses the transport's default user agent
	req.Header.Set("User-Agent", "")
	return req, nil
}

// exchange runs one request/response cycle on c.
func (s *Session) exchange(c *Connection, req *http.Request) (MessageResult, error) {
	if !c.link.ReserveNewRequest() {
		if !c.usable() {
			c.goAway()
			return transportFailure(ErrConnectionClosed), nil
		}
		return saturated(), nil
	}
	resp, err := c.link.RoundTrip(req)
	if err != nil {
		c.markBroken()
		return transportFailure(err), nil
	}
	defer resp.Body.Close()
	return classify(resp)
}

// classify maps a gateway response onto a MessageResult.
func classify(resp *http.Response) (MessageResult, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return accepted(), nil

	case http.StatusBadRequest, http.StatusForbidden, http.StatusMethodNotAllowed,
		http.StatusGone, http.StatusRequestEntityTooLarge:
		reason, body, err := readReason(resp)
		if err != nil {
			return failedRead(err)
		}
		r, ok := ParseFatalReason(reason)
		if !ok {
			return MessageResult{}, &ContractError{Status: resp.StatusCode, Body: body, Err: fmt.Errorf("unknown fatal reason %q", reason)}
		}
		return fatal(r), nil

	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		reason, body, err := readReason(resp)
		if err != nil {
			return failedRead(err)
		}
		r, ok := ParseTemporaryReason(reason)
		if !ok {
			return MessageResult{}, &ContractError{Status: resp.StatusCode, Body: body, Err: fmt.Errorf("unknown temporary reason %q", reason)}
		}
		return temporary(r), nil

	default:
		return MessageResult{}, &ContractError{Status: resp.StatusCode}
	}
}

type errorBody struct {
	Reason string `json:"reason"`
}

// readReason reads and decodes the JSON error body. An undecodable body is
// reported as a *ContractError, any other error is a read failure.
func readReason(resp *http.Response) (string, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read error body: %w", err)
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", body, &ContractError{Status: resp.StatusCode, Body: body, Err: err}
	}
	return eb.Reason, body, nil
}

func failedRead(err error) (MessageResult, error) {
	var ce *ContractError
	if errors.As(err, &ce) {
		return MessageResult{}, err
	}
	return transportFailure(err), nil
}
