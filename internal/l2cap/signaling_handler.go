package l2cap

import "encoding/binary"

// handleSignaling dispatches every signaling command packed into one
// L2CAP signaling-channel SDU (multiple commands may be concatenated).
func (l *L2CAP) handleSignaling(handle uint16, body []byte) {
	for len(body) > 0 {
		h, rest, err := unmarshalSigHeader(body)
		if err != nil {
			l.log.WithError(err).Warn("l2cap: malformed signaling command, dropping remainder")
			return
		}
		l.dispatchSignal(handle, h, rest)
		body = body[4+len(rest):]
	}
}

func (l *L2CAP) dispatchSignal(handle uint16, h sigHeader, body []byte) {
	switch h.Code {
	case SigConnectionRequest:
		l.handleConnectionRequest(handle, h.Ident, body)
	case SigConnectionResponse:
		l.handleConnectionResponse(handle, body)
	case SigConfigureRequest:
		l.handleConfigureRequest(handle, h.Ident, body)
	case SigConfigureResponse:
		l.handleConfigureResponse(handle, body)
	case SigDisconnectionRequest:
		l.handleDisconnectionRequest(handle, h.Ident, body)
	case SigDisconnectionResponse:
		l.handleDisconnectionResponse(handle, body)
	case SigEchoRequest:
		l.sendSignal(handle, SigEchoResponse, h.Ident, body)
	case SigInformationRequest:
		l.handleInformationRequest(handle, h.Ident, body)
	case SigCommandReject:
		l.log.WithField("handle", handle).Debug("l2cap: peer rejected a signaling command")
	default:
		l.log.WithField("code", h.Code).Warn("l2cap: unrecognized signaling command, rejecting")
		l.sendSignal(handle, SigCommandReject, h.Ident, commandRejectBody(0x0000))
	}
}

func (l *L2CAP) handleConnectionRequest(handle uint16, ident uint8, body []byte) {
	if len(body) < 4 {
		return
	}
	psm := binary.LittleEndian.Uint16(body[0:2])
	scid := binary.LittleEndian.Uint16(body[2:4])

	handlerFn, ok := l.handlerFor(psm)
	if !ok {
		l.sendSignal(handle, SigConnectionResponse, ident, connectionResponseBody(0, scid, ConnPSMNotSupported, 0))
		return
	}

	lcid := l.allocCID(handle)
	ch := newChannel(l, handle, lcid, scid, psm)
	ch.pendingHandler = handlerFn

	ph := l.perHandleState(handle)
	l.mu.Lock()
	ph.channels[lcid] = ch
	l.mu.Unlock()

	l.sendSignal(handle, SigConnectionResponse, ident, connectionResponseBody(lcid, scid, ConnSuccess, 0))

	// handlerFn fires once both configuration directions below complete
	// (see markConfigured), not here -- the channel's MTUs are still
	// unnegotiated defaults at this point.

	// Kick off our half of independent configuration, advertising the MTU
	// we're willing to receive on this channel.
	ourIdent := l.allocIdent(handle)
	l.sendSignal(handle, SigConfigureRequest, ourIdent, configureRequestBody(ch.RemoteCID, 0, []option{mtuOption(ch.localMTU)}))
}

func (l *L2CAP) handleConnectionResponse(handle uint16, body []byte) {
	// Outbound connection requests aren't issued by this responder-only
	// implementation; log unexpected traffic rather than fail silently.
	l.log.WithField("handle", handle).Debug("l2cap: unexpected connection response")
}

func (l *L2CAP) channelByLocalCID(handle, cid uint16) (*Channel, bool) {
	ph := l.perHandleState(handle)
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := ph.channels[cid]
	return ch, ok
}

func (l *L2CAP) channelByRemoteCID(handle, rcid uint16) (*Channel, bool) {
	ph := l.perHandleState(handle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range ph.channels {
		if ch.RemoteCID == rcid {
			return ch, true
		}
	}
	return nil, false
}

func (l *L2CAP) handleConfigureRequest(handle uint16, ident uint8, body []byte) {
	if len(body) < 4 {
		return
	}
	dcid := binary.LittleEndian.Uint16(body[0:2])
	flags := binary.LittleEndian.Uint16(body[2:4])
	opts, err := parseOptions(body[4:])
	if err != nil {
		l.log.WithError(err).Warn("l2cap: malformed configure request")
		return
	}

	ch, ok := l.channelByLocalCID(handle, dcid)
	if !ok {
		l.log.WithField("cid", dcid).Warn("l2cap: configure request for unknown channel")
		return
	}

	var unknown []option
	sawMTU := false
	for _, o := range opts {
		switch {
		case o.Type == OptMTU && len(o.Value) == 2:
			ch.remoteMTU = binary.LittleEndian.Uint16(o.Value)
			sawMTU = true
		case isHint(o.Type):
			// hint options are silently ignored.
		case knownOptionType(o.Type):
			// recognized but not modeled beyond its default; accepted as-is.
		default:
			unknown = append(unknown, o)
		}
	}

	// ConfigureResponse's Source CID mirrors the Destination CID the peer
	// addressed this request to -- our own local CID, unchanged.
	if len(unknown) > 0 {
		l.sendSignal(handle, SigConfigureResponse, ident, configureResponseBody(dcid, 0, CfgUnknownOptions, unknown))
		return
	}

	// A peer that omits the MTU option during initial configuration gets
	// the default MTU, unless an earlier request of the same exchange set one.
	if !sawMTU && ch.state == StateConfiguring && ch.remoteMTU == DefaultInitialMTU {
		ch.remoteMTU = defaultOptMTU
	}

	continuation := flags&0x1 != 0
	l.sendSignal(handle, SigConfigureResponse, ident, configureResponseBody(dcid, 0, CfgSuccess, nil))

	if !continuation {
		ch.recvConfigOK = true
		ch.markConfigured()
	}
}

func (l *L2CAP) handleConfigureResponse(handle uint16, body []byte) {
	if len(body) < 6 {
		return
	}
	// Source CID here mirrors the Destination CID we addressed our
	// request to -- the peer's own local CID, which on our side is the
	// channel's RemoteCID.
	scid := binary.LittleEndian.Uint16(body[0:2])
	result := binary.LittleEndian.Uint16(body[4:6])

	ch, ok := l.channelByRemoteCID(handle, scid)
	if !ok {
		return
	}

	switch result {
	case CfgSuccess:
		ch.sentConfigOK = true
		ch.markConfigured()
	default:
		l.log.WithField("result", result).Warn("l2cap: peer rejected our configure request")
	}
}

func (l *L2CAP) handleDisconnectionRequest(handle uint16, ident uint8, body []byte) {
	if len(body) < 4 {
		return
	}
	dcid := binary.LittleEndian.Uint16(body[0:2])
	scid := binary.LittleEndian.Uint16(body[2:4])

	l.sendSignal(handle, SigDisconnectionResponse, ident, disconnectionBody(dcid, scid))

	ph := l.perHandleState(handle)
	l.mu.Lock()
	ch, ok := ph.channels[dcid]
	if ok {
		delete(ph.channels, dcid)
	}
	l.mu.Unlock()
	if ok {
		ch.close()
	}
}

func (l *L2CAP) handleDisconnectionResponse(handle uint16, body []byte) {
	if len(body) < 4 {
		return
	}
	dcid := binary.LittleEndian.Uint16(body[0:2])

	ph := l.perHandleState(handle)
	l.mu.Lock()
	ch, ok := ph.channels[dcid]
	if ok {
		delete(ph.channels, dcid)
	}
	l.mu.Unlock()
	if ok {
		ch.close()
	}
}

func (l *L2CAP) handleInformationRequest(handle uint16, ident uint8, body []byte) {
	if len(body) < 2 {
		return
	}
	infoType := binary.LittleEndian.Uint16(body[0:2])

	switch infoType {
	case InfoConnectionlessMTU:
		v := make([]byte, 2)
		binary.LittleEndian.PutUint16(v, DefaultInitialMTU)
		l.sendSignal(handle, SigInformationResponse, ident, informationResponseBody(infoType, 0, v))
	case InfoLocalSupportedFeatures:
		v := make([]byte, 4)
		binary.LittleEndian.PutUint32(v, l.localFeatures)
		l.sendSignal(handle, SigInformationResponse, ident, informationResponseBody(infoType, 0, v))
	case InfoFixedChannelsSupported:
		v := make([]byte, 8)
		v[0] = 1 << 1 // bit 1: signaling channel
		l.sendSignal(handle, SigInformationResponse, ident, informationResponseBody(infoType, 0, v))
	default:
		l.sendSignal(handle, SigInformationResponse, ident, informationResponseBody(infoType, 1, nil))
	}
}
