package link

import (
	"sync"
	"testing"
	"time"

	"github.com/pulselink/pulse/encap"
	"github.com/pulselink/pulse/framing"
	"github.com/pulselink/pulse/stream"
)

type peerPacket struct {
	channel uint16
	body    []byte
}

// testPeer drives the far end of a pipe like an embedded target: it decodes
// frames, optionally speaks LCP, and records everything else.
type testPeer struct {
	t    *testing.T
	conn stream.Conn
	rx   *framing.Receiver

	packets chan peerPacket

	mu           sync.Mutex
	speakLCP     bool
	answerEchoes bool
	sentConfReq  bool
	confIdent    byte
	confReqsSeen int
	termReqsSeen int
}

func newTestPeer(t *testing.T, conn stream.Conn, speakLCP bool) *testPeer {
	p := &testPeer{
		t:            t,
		conn:         conn,
		rx:           framing.NewReceiver(0),
		packets:      make(chan peerPacket, 64),
		speakLCP:     speakLCP,
		answerEchoes: true,
	}
	go p.readLoop()
	return p
}

func (p *testPeer) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			return
		}
		p.rx.Write(buf[:n])
		for _, payload := range p.rx.Payloads() {
			channel, body, err := encap.Split(payload)
			if err != nil {
				continue
			}
			p.mu.Lock()
			lcpMode := p.speakLCP
			p.mu.Unlock()
			if channel == LCPChannel {
				if lcpMode {
					p.handleLCP(body)
				}
				continue
			}
			p.packets <- peerPacket{channel: channel, body: append([]byte(nil), body...)}
		}
	}
}

func (p *testPeer) handleLCP(body []byte) {
	pkt, err := decodeLCP(body)
	if err != nil {
		return
	}
	switch pkt.code {
	case codeConfigureRequest:
		p.sendLCP(lcpPacket{code: codeConfigureAck, ident: pkt.ident, data: pkt.data})
		p.mu.Lock()
		p.confReqsSeen++
		sent := p.sentConfReq
		p.sentConfReq = true
		p.confIdent++
		ident := p.confIdent
		p.mu.Unlock()
		if !sent {
			p.sendLCP(lcpPacket{code: codeConfigureRequest, ident: ident})
		}
	case codeEchoRequest:
		p.mu.Lock()
		answer := p.answerEchoes
		p.mu.Unlock()
		if answer {
			p.sendLCP(lcpPacket{code: codeEchoReply, ident: pkt.ident, data: pkt.data})
		}
	case codeTerminateRequest:
		p.mu.Lock()
		p.termReqsSeen++
		p.mu.Unlock()
		p.sendLCP(lcpPacket{code: codeTerminateAck, ident: pkt.ident})
	}
}

func (p *testPeer) confRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confReqsSeen
}

func (p *testPeer) termRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.termReqsSeen
}

func (p *testPeer) setAnswerEchoes(v bool) {
	p.mu.Lock()
	p.answerEchoes = v
	p.mu.Unlock()
}

// allowRenegotiation lets the peer answer a fresh configure-request with its
// own, so a restarted link can come back up.
func (p *testPeer) allowRenegotiation() {
	p.mu.Lock()
	p.sentConfReq = false
	p.mu.Unlock()
}

func (p *testPeer) send(channel uint16, body []byte) {
	if _, err := p.conn.Write(framing.EncodeFrame(encap.Join(channel, body))); err != nil {
		p.t.Logf("peer write failed: %v", err)
	}
}

func (p *testPeer) sendLCP(pkt lcpPacket) {
	p.send(LCPChannel, encodeLCP(pkt))
}

func (p *testPeer) expect(timeout time.Duration) (peerPacket, bool) {
	select {
	case pkt := <-p.packets:
		return pkt, true
	case <-time.After(timeout):
		return peerPacket{}, false
	}
}
