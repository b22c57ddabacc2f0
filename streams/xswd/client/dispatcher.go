package client

// dispatcher decodes each inbound frame once and fans it out to every
// registered handler. Handlers filter by id themselves.
type dispatcher struct {
	corr        *correlator
	onHandshake func(accepted bool)
	metrics     *Metrics
	logger      Logger
}

func (d *dispatcher) dispatch(frame []byte) {
	msg, err := decodeMessage(frame)
	if err != nil {
		d.logger.Warn("Dropping malformed frame", "error", err)
		return
	}

	matched := false
	for _, h := range d.corr.snapshot() {
		if h(msg) {
			matched = true
		}
	}

	if msg.Accepted != nil {
		d.onHandshake(*msg.Accepted)
		return
	}

	if !matched {
		id, _ := msg.RequestID()
		d.metrics.unmatchedFrames.Inc()
		d.logger.Debug("Frame matched no pending request", "id", id)
	}
}
