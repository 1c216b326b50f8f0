package loopback

import (
	"context"
	"fmt"

	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/netcode"

	"github.com/sasha-s/go-deadlock"
)

const EVENT_BUFFER int = 32

// Network is an in-process wire: hosts register under their listen
// endpoint and clients dial them by the same key. Used by tests and local
// single-process play.
type Network struct {
	mutex deadlock.Mutex
	hosts map[string]*Transport
}

func NewNetwork() *Network {
	return &Network{
		hosts: make(map[string]*Transport),
	}
}

type mode byte

const (
	modeIdle mode = iota
	modeClient
	modeHost
)

// pump serializes callback delivery for one transport session, so the
// handler sees events one at a time in order.
type pump struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
}

func newPump() *pump {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pump{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan func(), EVENT_BUFFER),
	}
	go p.run()
	return p
}

func (p *pump) run() {
	for {
		select {
		case event := <-p.events:
			if p.ctx.Err() != nil {
				return
			}
			event()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *pump) post(event func()) {
	if p == nil || p.ctx.Err() != nil {
		return
	}
	select {
	case p.events <- event:
	case <-p.ctx.Done():
	}
}

type Transport struct {
	network *Network
	handler netcode.Handler

	mutex    deadlock.Mutex
	mode     mode
	pump     *pump
	localID  netcode.ClientID
	endpoint netcode.Endpoint

	// Host side
	nextID uint64
	peers  map[netcode.ClientID]*Transport

	// Client side
	remoteHost *Transport
}

var _ netcode.Transport = (*Transport)(nil)

func (n *Network) NewTransport() *Transport {
	return &Transport{
		network: n,
		peers:   make(map[netcode.ClientID]*Transport),
	}
}

func (t *Transport) SetHandler(handler netcode.Handler) {
	t.handler = handler
}

func (t *Transport) LocalClientID() netcode.ClientID {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.localID
}

func (t *Transport) allocID() netcode.ClientID {
	t.nextID++
	return netcode.ClientID(t.nextID)
}

func (t *Transport) StartHost(endpoint netcode.Endpoint, localPayload []byte) error {
	t.mutex.Lock()
	if t.mode != modeIdle {
		t.mutex.Unlock()
		return fmt.Errorf("transport already active")
	}

	t.network.mutex.Lock()
	key := endpoint.String()
	if _, taken := t.network.hosts[key]; taken {
		t.network.mutex.Unlock()
		t.mutex.Unlock()
		return fmt.Errorf("endpoint %s already in use", key)
	}
	t.network.hosts[key] = t
	t.network.mutex.Unlock()

	t.mode = modeHost
	t.endpoint = endpoint
	t.pump = newPump()
	t.localID = t.allocID()

	localID := t.localID
	sessionPump := t.pump
	t.mutex.Unlock()

	sessionPump.post(func() {
		response := netcode.ApprovalResponse{}
		t.handler.ApprovalCheck(netcode.ApprovalRequest{
			ClientID: localID,
			Payload:  localPayload,
		}, &response)

		if !response.Approved {
			t.handler.OnServerStopped()
			return
		}

		t.handler.OnServerStarted()
		t.handler.OnClientConnected(localID)
	})

	return nil
}

func (t *Transport) StartClient(endpoint netcode.Endpoint, payload []byte) error {
	t.network.mutex.Lock()
	host := t.network.hosts[endpoint.String()]
	t.network.mutex.Unlock()

	if host == nil {
		return fmt.Errorf("no host listening at %s", endpoint)
	}

	t.mutex.Lock()
	if t.mode != modeIdle {
		t.mutex.Unlock()
		return fmt.Errorf("transport already active")
	}
	t.mode = modeClient
	t.remoteHost = host
	t.pump = newPump()
	clientPump := t.pump
	t.mutex.Unlock()

	host.mutex.Lock()
	if host.mode != modeHost {
		host.mutex.Unlock()
		return fmt.Errorf("host at %s is gone", endpoint)
	}
	id := host.allocID()
	hostPump := host.pump
	host.mutex.Unlock()

	t.mutex.Lock()
	t.localID = id
	t.mutex.Unlock()

	// Admission runs on the host; the verdict comes back to this peer as
	// either a connect or a disconnect carrying the denial reason.
	hostPump.post(func() {
		response := netcode.ApprovalResponse{}
		host.handler.ApprovalCheck(netcode.ApprovalRequest{
			ClientID: id,
			Payload:  payload,
		}, &response)

		if !response.Approved {
			clientPump.post(func() {
				t.handler.OnClientDisconnect(id, response.Reason)
			})
			return
		}

		host.mutex.Lock()
		host.peers[id] = t
		host.mutex.Unlock()

		// The peer hears about its own connection before the host
		// handler runs, so the join broadcast never beats the connect.
		clientPump.post(func() {
			t.handler.OnClientConnected(id)
		})
		host.handler.OnClientConnected(id)
	})

	return nil
}

func (t *Transport) Shutdown(ctx context.Context) error {
	t.mutex.Lock()

	if t.mode == modeIdle {
		// A detached client leaves its pump running just long enough to
		// deliver the final disconnect; collect it here.
		if t.pump != nil {
			t.pump.cancel()
			t.pump = nil
		}
		t.mutex.Unlock()
		return nil
	}

	activeMode := t.mode
	localID := t.localID
	remoteHost := t.remoteHost
	peers := t.peers

	// Local callbacks stop before anything else happens.
	if t.pump != nil {
		t.pump.cancel()
	}
	t.pump = nil
	t.mode = modeIdle
	t.localID = 0
	t.remoteHost = nil
	t.peers = make(map[netcode.ClientID]*Transport)

	if activeMode == modeHost {
		t.network.mutex.Lock()
		delete(t.network.hosts, t.endpoint.String())
		t.network.mutex.Unlock()
	}
	t.mutex.Unlock()

	switch activeMode {
	case modeClient:
		if remoteHost != nil {
			remoteHost.dropPeer(localID, "")
		}
	case modeHost:
		for id, peer := range peers {
			if id == localID {
				continue
			}
			clientID := id
			target := peer
			target.mutex.Lock()
			peerPump := target.pump
			target.mutex.Unlock()
			peerPump.post(func() {
				target.handler.OnClientDisconnect(clientID, netcode.DisconnectReasonHostShutdown)
			})
			target.detach()
		}
	}

	return nil
}

// dropPeer is how a host learns one of its clients went away.
func (t *Transport) dropPeer(id netcode.ClientID, reason string) {
	t.mutex.Lock()
	if t.mode != modeHost {
		t.mutex.Unlock()
		return
	}
	delete(t.peers, id)
	hostPump := t.pump
	t.mutex.Unlock()

	hostPump.post(func() {
		t.handler.OnClientDisconnect(id, reason)
	})
}

// detach ends a client session without raising local callbacks, used when
// the remote host already delivered the final disconnect.
func (t *Transport) detach() {
	t.mutex.Lock()
	if t.mode == modeClient {
		t.mode = modeIdle
		t.remoteHost = nil
		t.localID = 0
	}
	t.mutex.Unlock()
}

func (t *Transport) DisconnectClient(id netcode.ClientID, reason string) {
	t.mutex.Lock()
	peer := t.peers[id]
	delete(t.peers, id)
	hostPump := t.pump
	t.mutex.Unlock()

	if peer == nil {
		return
	}

	peer.mutex.Lock()
	peerPump := peer.pump
	peer.mutex.Unlock()

	peerPump.post(func() {
		peer.handler.OnClientDisconnect(id, reason)
	})
	peer.detach()

	hostPump.post(func() {
		t.handler.OnClientDisconnect(id, reason)
	})
}

func (t *Transport) Broadcast(data []byte) {
	t.mutex.Lock()
	targets := make([]*Transport, 0, len(t.peers))
	for id, peer := range t.peers {
		if id == t.localID {
			continue
		}
		targets = append(targets, peer)
	}
	t.mutex.Unlock()

	for _, peer := range targets {
		target := peer
		target.mutex.Lock()
		peerPump := target.pump
		target.mutex.Unlock()
		peerPump.post(func() {
			target.handler.OnServerMessage(data)
		})
	}
}
