package gateway

import (
	"strconv"
	"time"
)

// broadcast wraps data in an envelope, records it for replay and sends it to
// every client subscribed to channel. srcTS, when set, is the tick time the
// payload was derived from and feeds the latency tracker.
func (h *Hub) broadcast(channel string, data []byte, srcTS time.Time) {
	now := time.Now().UTC()
	if h.Latency != nil && !srcTS.IsZero() {
		if ms := float64(now.Sub(srcTS).Microseconds()) / 1000.0; ms >= 0 {
			h.Latency.Record(ms)
		}
	}

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(h.replaySize)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := appendEnvelope(make([]byte, 0, len(channel)+len(data)+160), channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			if h.OnSlowClient != nil {
				h.OnSlowClient()
			}
		}
	}
}

// appendEnvelope hand-builds {"channel":..,"data":..,"ts":..,"seq":..,"channel_seq":..}.
// data must already be valid JSON.
func appendEnvelope(buf []byte, channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	return append(buf, '}')
}
