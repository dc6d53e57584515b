package signaling_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

// TestNegotiation_DataChannelOverRelay runs a full trickle-ICE offer/answer
// between two pion peers whose only signaling path is the relay.
func TestNegotiation_DataChannelOverRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiation test starts real peer connections")
	}

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	for _, n := range []*vnet.Net{netA, netB} {
		if err := router.AddNet(n); err != nil {
			t.Fatalf("add net: %v", err)
		}
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	hub := signaling.NewHub(signaling.HubConfig{})
	mux := http.NewServeMux()
	signaling.NewWebSocketServer(signaling.WebSocketConfig{Hub: hub}).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"

	alice := newTestParticipant(t, "alice", netA, wsURL)
	alice.join("call")
	if roster := alice.waitRoster(); len(roster) != 0 {
		t.Fatalf("alice roster=%v, want empty", roster)
	}
	go alice.run()

	bob := newTestParticipant(t, "bob", netB, wsURL)
	bob.join("call")
	roster := bob.waitRoster()
	if len(roster) != 1 || roster[0] != "alice" {
		t.Fatalf("bob roster=%v, want [alice]", roster)
	}

	// The newcomer calls everyone already in the room.
	dc, err := bob.pc.CreateDataChannel("chat", nil)
	if err != nil {
		t.Fatalf("create datachannel: %v", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	bob.call("alice")
	go bob.run()

	var remote *webrtc.DataChannel
	select {
	case remote = <-alice.dataChannels:
	case err := <-alice.errs:
		t.Fatalf("alice: %v", err)
	case err := <-bob.errs:
		t.Fatalf("bob: %v", err)
	case <-time.After(15 * time.Second):
		t.Fatalf("timeout waiting for datachannel")
	}
	select {
	case <-opened:
	case <-time.After(15 * time.Second):
		t.Fatalf("timeout waiting for datachannel to open")
	}

	got := make(chan string, 1)
	remote.OnMessage(func(msg webrtc.DataChannelMessage) { got <- string(msg.Data) })
	if err := dc.SendText("hello over p2p"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "hello over p2p" {
			t.Fatalf("msg=%q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for datachannel message")
	}
}

type testParticipant struct {
	t    *testing.T
	name string
	ws   *websocket.Conn
	pc   *webrtc.PeerConnection

	writeMu sync.Mutex

	mu         sync.Mutex
	remote     string
	haveRemote bool
	pending    []webrtc.ICECandidateInit

	dataChannels chan *webrtc.DataChannel
	errs         chan error
}

func newTestParticipant(t *testing.T, name string, n *vnet.Net, wsURL string) *testParticipant {
	t.Helper()

	se := webrtc.SettingEngine{}
	se.SetNet(n)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("%s: new pc: %v", name, err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("%s: dial: %v", name, err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	p := &testParticipant{
		t:            t,
		name:         name,
		ws:           ws,
		pc:           pc,
		dataChannels: make(chan *webrtc.DataChannel, 1),
		errs:         make(chan error, 1),
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.mu.Lock()
		remote := p.remote
		p.mu.Unlock()
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			p.fail(err)
			return
		}
		p.send(signaling.CandidateEvent{TargetParticipantID: remote, Candidate: payload})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		select {
		case p.dataChannels <- dc:
		default:
		}
	})
	return p
}

func (p *testParticipant) fail(err error) {
	select {
	case p.errs <- fmt.Errorf("%s: %w", p.name, err):
	default:
	}
}

func (p *testParticipant) send(ev signaling.Inbound) {
	data, err := signaling.MarshalInbound(ev)
	if err != nil {
		p.fail(err)
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		p.fail(err)
	}
}

func (p *testParticipant) read() (signaling.Outbound, error) {
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return signaling.ParseOutbound(data)
}

func (p *testParticipant) join(roomID string) {
	p.send(signaling.JoinEvent{RoomID: roomID, ParticipantID: p.name})
}

func (p *testParticipant) waitRoster() []string {
	p.t.Helper()
	_ = p.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer p.ws.SetReadDeadline(time.Time{})
	msg, err := p.read()
	if err != nil {
		p.t.Fatalf("%s: read roster: %v", p.name, err)
	}
	roster, ok := msg.(signaling.UsersInRoom)
	if !ok {
		p.t.Fatalf("%s: got %#v, want users-in-room", p.name, msg)
	}
	return roster.ParticipantIDs
}

func (p *testParticipant) call(target string) {
	p.t.Helper()
	p.mu.Lock()
	p.remote = target
	p.mu.Unlock()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.t.Fatalf("%s: create offer: %v", p.name, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.t.Fatalf("%s: set local: %v", p.name, err)
	}
	payload, err := json.Marshal(offer)
	if err != nil {
		p.t.Fatalf("%s: marshal offer: %v", p.name, err)
	}
	p.send(signaling.OfferEvent{TargetParticipantID: target, Offer: payload})
}

// run handles relay events until the connection closes.
func (p *testParticipant) run() {
	for {
		msg, err := p.read()
		if err != nil {
			return
		}
		switch msg := msg.(type) {
		case signaling.Offer:
			p.mu.Lock()
			p.remote = msg.CallerParticipantID
			p.mu.Unlock()
			var desc webrtc.SessionDescription
			if err := json.Unmarshal(msg.Offer, &desc); err != nil {
				p.fail(err)
				return
			}
			if err := p.setRemote(desc); err != nil {
				p.fail(err)
				return
			}
			answer, err := p.pc.CreateAnswer(nil)
			if err != nil {
				p.fail(err)
				return
			}
			if err := p.pc.SetLocalDescription(answer); err != nil {
				p.fail(err)
				return
			}
			payload, err := json.Marshal(answer)
			if err != nil {
				p.fail(err)
				return
			}
			p.send(signaling.AnswerEvent{TargetParticipantID: msg.CallerParticipantID, Answer: payload})
		case signaling.Answer:
			var desc webrtc.SessionDescription
			if err := json.Unmarshal(msg.Answer, &desc); err != nil {
				p.fail(err)
				return
			}
			if err := p.setRemote(desc); err != nil {
				p.fail(err)
				return
			}
		case signaling.Candidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Candidate, &init); err != nil {
				p.fail(err)
				return
			}
			if err := p.addCandidate(init); err != nil {
				p.fail(err)
				return
			}
		}
	}
}

// setRemote applies desc and then any candidates that arrived before it.
func (p *testParticipant) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	p.mu.Lock()
	p.haveRemote = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *testParticipant) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.haveRemote {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(c)
}
