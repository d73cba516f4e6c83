package sdpctrl

import (
	"context"
	"encoding/base64"
	"time"

	"pkt.systems/sdpctrl/internal/codec"
	"pkt.systems/sdpctrl/internal/transport"
)

// controlLoop implements the keep-alive/credential-update state machine
// (spec §4E). One iteration: connect if needed, drain the inbox, consider a
// credential update, exit if a one-shot cycle just completed, handle
// pending signals, consider a keep-alive, then sleep and repeat.
func (c *Client) controlLoop(ctx context.Context) error {
	defer func() {
		if c.transport != nil {
			_ = c.transport.Disconnect()
		}
		c.log().Warn("sdp control client exiting")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		if c.transport.State() != transport.Connected {
			if err := c.connect(ctx); err != nil {
				return err
			}
		}

		if err := c.checkInbox(ctx); err != nil {
			return err
		}

		if err := c.considerCredUpdate(ctx); err != nil {
			return err
		}

		if !c.cfg.RemainConnected && !c.lastCredUpdateAt().IsZero() {
			return nil
		}

		keepRunning, err := c.handleSignals()
		if err != nil {
			return err
		}
		if !keepRunning {
			return err
		}

		if err := c.considerKeepAlive(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case <-c.clock.After(1 * time.Second):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	c.metrics.observeConnAttempt()
	if err := c.transport.Connect(ctx); err != nil {
		c.metrics.observeConnFailure()
		return err
	}
	now := c.clock.Now()
	c.mu.Lock()
	c.initialConnTime = now
	c.lastContact = now
	c.mu.Unlock()
	c.clearStateVars()
	return nil
}

func (c *Client) lastCredUpdateAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCredUpdate
}

// checkInbox drains up to cfg.MessageQueueLen pending inbound messages,
// dispatching each to its handler. Unknown envelopes are logged and
// dropped, never fatal.
func (c *Client) checkInbox(ctx context.Context) error {
	for i := 0; i < c.cfg.MessageQueueLen; i++ {
		msg, n, err := c.transport.GetMsg()
		if err != nil {
			return newError(CodeConnDown, err)
		}
		if n == 0 {
			return nil
		}

		tag, payload, err := codec.Process(msg)
		if err != nil {
			c.log().Warn("dropping malformed inbound envelope", "error", err)
			continue
		}

		switch tag {
		case codec.KeepAliveFulfilling:
			c.log().Info("keep-alive response received")
			c.processKeepAlive()
		case codec.CredsFulfilling:
			c.log().Info("credential update received")
			if err := c.processCredUpdate(ctx, payload); err != nil {
				return err
			}
		default:
			c.metrics.observeBadResult()
			c.log().Warn("dropping unrecognized inbound envelope")
		}
	}
	return nil
}

func (c *Client) processKeepAlive() {
	c.mu.Lock()
	c.lastContact = c.clock.Now()
	state := c.clientState
	c.mu.Unlock()
	if state == StateKeepAliveRequesting || state == StateKeepAliveUnfulfilled {
		c.clearStateVars()
	}
}

func (c *Client) processCredUpdate(ctx context.Context, payload *codec.CredentialPayload) error {
	if payload == nil {
		return newError(CodeCredReq, nil)
	}

	bundle, err := decodeCredentialPayload(payload)
	if err != nil {
		return newError(CodeCredReq, err)
	}
	if err := c.applyCredentials(bundle); err != nil {
		c.log().Error("failed to store new credentials", "error", err)
		return err
	}
	c.metrics.observeCredRotation()

	now := c.clock.Now()
	c.mu.Lock()
	c.lastContact = now
	c.lastCredUpdate = now
	state := c.clientState
	c.mu.Unlock()
	if state == StateCredRequesting || state == StateCredUnfulfilled {
		c.clearStateVars()
	}

	fulfilled, err := codec.Make(codec.SubjectCredUpdate, codec.StageFulfilled)
	if err != nil {
		return newError(CodeCredReq, err)
	}
	if err := c.transport.SendMsg(ctx, fulfilled); err != nil {
		return newError(CodeCredReq, err)
	}
	return nil
}

func decodeCredentialPayload(p *codec.CredentialPayload) (CredentialBundle, error) {
	enc, err := base64.StdEncoding.DecodeString(p.SPAEncryptionKey)
	if err != nil {
		return CredentialBundle{}, err
	}
	hmacKey, err := base64.StdEncoding.DecodeString(p.SPAHMACKey)
	if err != nil {
		return CredentialBundle{}, err
	}
	return CredentialBundle{
		TLSClientCertPEM: []byte(p.TLSClientCertPEM),
		TLSClientKeyPEM:  []byte(p.TLSClientKeyPEM),
		SPAEncryptionKey: enc,
		SPAHMACKey:       hmacKey,
	}, nil
}

// clearStateVars resets the retry bookkeeping to its initial values,
// matching the original's sdp_ctrl_client_clear_state_vars.
func (c *Client) clearStateVars() {
	c.mu.Lock()
	c.lastReqTime = time.Time{}
	c.reqRetryInterval = c.cfg.InitReqRetryInterval
	c.reqAttempts = 0
	c.clientState = StateReady
	c.mu.Unlock()
	c.metrics.setState(StateReady)
	c.metrics.setReqRetryInterval(c.cfg.InitReqRetryInterval.Seconds())
}

// setRequestVars marks a request as just having been (re)sent, matching
// sdp_ctrl_client_set_request_vars.
func (c *Client) setRequestVars(newState State) {
	c.mu.Lock()
	c.clientState = newState
	c.lastReqTime = c.clock.Now()
	c.reqAttempts++
	c.mu.Unlock()
	c.metrics.setState(newState)
}

// considerKeepAlive implements sdp_ctrl_client_consider_keep_alive: send a
// keep-alive when due in StateReady, or retry with doubled backoff when an
// outstanding request has timed out, or give up after MaxReqAttempts.
func (c *Client) considerKeepAlive(ctx context.Context) error {
	if c.transport.State() != transport.Connected {
		return nil
	}

	c.mu.Lock()
	state := c.clientState
	lastContact := c.lastContact
	keepAliveInterval := c.cfg.KeepAliveInterval
	lastReqTime := c.lastReqTime
	retryInterval := c.reqRetryInterval
	attempts := c.reqAttempts
	maxAttempts := c.cfg.MaxReqAttempts
	c.mu.Unlock()

	now := c.clock.Now()

	switch {
	case state == StateReady:
		if now.Before(lastContact.Add(keepAliveInterval)) {
			return nil
		}
		return c.requestKeepAlive(ctx)

	case state == StateKeepAliveRequesting || state == StateKeepAliveUnfulfilled:
		if now.Before(lastReqTime.Add(retryInterval)) {
			return nil
		}
		if attempts >= maxAttempts {
			c.log().Error("too many failed keep-alive requests, exiting")
			_ = c.transport.Disconnect()
			c.setState(StateTimeToQuit)
			return newError(CodeManyFailedReqs, nil)
		}
		c.setState(StateKeepAliveUnfulfilled)
		c.mu.Lock()
		c.reqRetryInterval *= 2
		c.mu.Unlock()
		c.metrics.setReqRetryInterval((retryInterval * 2).Seconds())
		c.log().Debug("retrying unfulfilled keep-alive request")
		return c.requestKeepAlive(ctx)

	default:
		return nil
	}
}

func (c *Client) requestKeepAlive(ctx context.Context) error {
	if c.transport.State() != transport.Connected {
		return newError(CodeConnDown, nil)
	}
	if !c.State().requesting() {
		return newError(CodeState, nil)
	}

	msg, err := codec.Make(codec.SubjectKeepAlive, "")
	if err != nil {
		return newError(CodeKeepAlive, err)
	}
	if err := c.transport.SendMsg(ctx, msg); err != nil {
		return newError(CodeKeepAlive, err)
	}
	c.metrics.observeKeepAliveSent()
	next := StateKeepAliveRequesting
	if c.State() == StateKeepAliveUnfulfilled {
		next = StateKeepAliveUnfulfilled
	}
	c.setRequestVars(next)
	return nil
}

// considerCredUpdate implements sdp_ctrl_client_consider_cred_update,
// mirroring considerKeepAlive's structure against CredUpdateInterval.
func (c *Client) considerCredUpdate(ctx context.Context) error {
	if c.transport.State() != transport.Connected {
		return nil
	}

	c.mu.Lock()
	state := c.clientState
	lastCredUpdate := c.lastCredUpdate
	credUpdateInterval := c.cfg.CredUpdateInterval
	lastReqTime := c.lastReqTime
	retryInterval := c.reqRetryInterval
	attempts := c.reqAttempts
	maxAttempts := c.cfg.MaxReqAttempts
	c.mu.Unlock()

	now := c.clock.Now()

	switch {
	case state == StateReady:
		if now.Before(lastCredUpdate.Add(credUpdateInterval)) {
			return nil
		}
		c.log().Debug("time for a credential update request")
		return c.requestCredUpdate(ctx)

	case state == StateCredRequesting || state == StateCredUnfulfilled:
		if now.Before(lastReqTime.Add(retryInterval)) {
			return nil
		}
		if attempts >= maxAttempts {
			c.log().Error("too many failed credential requests, exiting")
			_ = c.transport.Disconnect()
			c.setState(StateTimeToQuit)
			return newError(CodeManyFailedReqs, nil)
		}
		c.setState(StateCredUnfulfilled)
		c.mu.Lock()
		c.reqRetryInterval *= 2
		c.mu.Unlock()
		c.metrics.setReqRetryInterval((retryInterval * 2).Seconds())
		c.log().Debug("retrying unfulfilled credential update request")
		return c.requestCredUpdate(ctx)

	default:
		return nil
	}
}

func (c *Client) requestCredUpdate(ctx context.Context) error {
	if c.transport.State() != transport.Connected {
		return newError(CodeConnDown, nil)
	}
	if !c.State().requesting() {
		return newError(CodeState, nil)
	}

	msg, err := codec.Make(codec.SubjectCredUpdate, codec.StageRequesting)
	if err != nil {
		return newError(CodeCredReq, err)
	}
	if err := c.transport.SendMsg(ctx, msg); err != nil {
		return newError(CodeCredReq, err)
	}
	c.metrics.observeCredUpdateSent()
	next := StateCredRequesting
	if c.State() == StateCredUnfulfilled {
		next = StateCredUnfulfilled
	}
	c.setRequestVars(next)
	return nil
}
