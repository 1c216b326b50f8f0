package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/netcode"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const (
	CLIENT_MESSAGE_LIMIT int = 16

	WRITE_TIMEOUT     = time.Duration(5 * time.Second)
	HANDSHAKE_TIMEOUT = time.Duration(10 * time.Second)

	DEFAULT_ACCEPTS_PER_SECOND = 16
)

func writeTimeout(ctx context.Context, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, WRITE_TIMEOUT)
	defer cancel()
	return c.Write(ctx, websocket.MessageBinary, msg)
}

type hostClient struct {
	id        netcode.ClientID
	conn      *websocket.Conn
	send      chan []byte
	cancel    context.CancelFunc
	closeSlow func()
}

// Transport carries the connection lifecycle over websockets: the host
// runs an HTTP listener accepting upgrades, clients dial it. Frames are
// CBOR; the admission payload rides in the first frame and the disconnect
// reason in the last.
type Transport struct {
	handler netcode.Handler

	// Upgrades admitted per second before the host refuses outright.
	AcceptsPerSecond int

	mutex      deadlock.Mutex
	generation uint64
	hosting    bool
	dialing    bool
	localID    netcode.ClientID
	nextID     uint64

	// Host side
	httpServer *http.Server
	listener   net.Listener
	limiter    *rate.Limiter
	clients    map[netcode.ClientID]*hostClient

	// Client side
	conn       *websocket.Conn
	clientStop context.CancelFunc
}

var _ netcode.Transport = (*Transport)(nil)

func New() *Transport {
	return &Transport{
		AcceptsPerSecond: DEFAULT_ACCEPTS_PER_SECOND,
		clients:          make(map[netcode.ClientID]*hostClient),
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

// stale reports whether the session that started at generation gen has
// since been torn down; callbacks from dead sessions are dropped.
func (t *Transport) stale(gen uint64) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return gen != t.generation
}

// ---------------------------------------------------------------------------
// Host

func (t *Transport) StartHost(endpoint netcode.Endpoint, localPayload []byte) error {
	t.mutex.Lock()
	if t.hosting || t.dialing {
		t.mutex.Unlock()
		return fmt.Errorf("transport already active")
	}

	listener, err := net.Listen("tcp", endpoint.String())
	if err != nil {
		t.mutex.Unlock()
		return fmt.Errorf("failed to bind %s: %w", endpoint, err)
	}

	t.hosting = true
	t.generation++
	gen := t.generation
	t.nextID++
	t.localID = netcode.ClientID(t.nextID)
	localID := t.localID
	t.listener = listener

	perSecond := t.AcceptsPerSecond
	if perSecond <= 0 {
		perSecond = DEFAULT_ACCEPTS_PER_SECOND
	}
	t.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)

	httpServer := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.serveClient(w, r, gen)
		}),
	}
	t.httpServer = httpServer
	t.mutex.Unlock()

	go func() {
		// The host approves its own client before the listener is
		// announced as started.
		response := netcode.ApprovalResponse{}
		t.handler.ApprovalCheck(netcode.ApprovalRequest{
			ClientID: localID,
			Payload:  localPayload,
		}, &response)
		if t.stale(gen) {
			return
		}

		if !response.Approved {
			t.handler.OnServerStopped()
			return
		}

		t.handler.OnServerStarted()
		t.handler.OnClientConnected(localID)
	}()

	go func() {
		err := httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		if t.stale(gen) {
			return
		}
		log.Error().Err(err).Msg("host listener failed")
		t.handler.OnServerStopped()
	}()

	return nil
}

func (t *Transport) serveClient(w http.ResponseWriter, r *http.Request, gen uint64) {
	t.mutex.Lock()
	limiter := t.limiter
	t.mutex.Unlock()

	if limiter != nil && !limiter.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Debug().Err(err).Msg("failed to accept websocket upgrade")
		return
	}
	defer c.Close(websocket.StatusInternalError, "session fault")

	handshakeCtx, cancel := context.WithTimeout(r.Context(), HANDSHAKE_TIMEOUT)
	_, raw, err := c.Read(handshakeCtx)
	cancel()
	if err != nil {
		return
	}

	var connect ConnectFrame
	if err := cbor.Unmarshal(raw, &connect); err != nil || connect.Op != ConnectOp {
		return
	}

	t.mutex.Lock()
	if gen != t.generation {
		t.mutex.Unlock()
		return
	}
	t.nextID++
	id := netcode.ClientID(t.nextID)
	t.mutex.Unlock()

	response := netcode.ApprovalResponse{}
	t.handler.ApprovalCheck(netcode.ApprovalRequest{
		ClientID: id,
		Payload:  connect.Payload,
	}, &response)
	if t.stale(gen) {
		return
	}

	if !response.Approved {
		frame := marshal(DisconnectFrame{Op: DisconnectOp, Reason: response.Reason})
		_ = writeTimeout(r.Context(), c, frame)
		c.Close(websocket.StatusNormalClosure, "denied")
		return
	}

	clientCtx, stop := context.WithCancel(r.Context())
	client := &hostClient{
		id:     id,
		conn:   c,
		send:   make(chan []byte, CLIENT_MESSAGE_LIMIT),
		cancel: stop,
	}
	client.closeSlow = func() {
		c.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
	}

	t.mutex.Lock()
	if gen != t.generation {
		t.mutex.Unlock()
		stop()
		return
	}
	t.clients[id] = client
	t.mutex.Unlock()

	accept := marshal(AcceptFrame{Op: AcceptOp, ClientID: uint64(id)})
	if err := writeTimeout(clientCtx, c, accept); err != nil {
		t.removeClient(id)
		stop()
		return
	}

	t.handler.OnClientConnected(id)

	go func() {
		for {
			select {
			case msg := <-client.send:
				if err := writeTimeout(clientCtx, c, msg); err != nil {
					client.closeSlow()
					return
				}
			case <-clientCtx.Done():
				return
			}
		}
	}()

	// The read loop only watches for the socket dying; lifecycle traffic
	// is host -> client.
	for {
		if _, _, err := c.Read(clientCtx); err != nil {
			break
		}
	}

	stop()
	if t.removeClient(id) && !t.stale(gen) {
		t.handler.OnClientDisconnect(id, "")
	}
}

func (t *Transport) removeClient(id netcode.ClientID) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, ok := t.clients[id]; !ok {
		return false
	}
	delete(t.clients, id)
	return true
}

func (t *Transport) DisconnectClient(id netcode.ClientID, reason string) {
	t.mutex.Lock()
	client := t.clients[id]
	delete(t.clients, id)
	gen := t.generation
	t.mutex.Unlock()

	if client == nil {
		return
	}

	frame := marshal(DisconnectFrame{Op: DisconnectOp, Reason: reason})
	ctx, cancel := context.WithTimeout(context.Background(), WRITE_TIMEOUT)
	_ = client.conn.Write(ctx, websocket.MessageBinary, frame)
	cancel()
	client.conn.Close(websocket.StatusNormalClosure, "disconnected by host")
	client.cancel()

	go func() {
		if t.stale(gen) {
			return
		}
		t.handler.OnClientDisconnect(id, reason)
	}()
}

func (t *Transport) Broadcast(data []byte) {
	frame := marshal(EventFrame{Op: EventOp, Data: data})

	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, client := range t.clients {
		select {
		case client.send <- frame:
		default:
			go client.closeSlow()
		}
	}
}

// ---------------------------------------------------------------------------
// Client

func (t *Transport) StartClient(endpoint netcode.Endpoint, payload []byte) error {
	t.mutex.Lock()
	if t.hosting || t.dialing {
		t.mutex.Unlock()
		return fmt.Errorf("transport already active")
	}
	t.dialing = true
	t.generation++
	gen := t.generation
	t.mutex.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), HANDSHAKE_TIMEOUT)
	c, _, err := websocket.Dial(dialCtx, fmt.Sprintf("ws://%s", endpoint), nil)
	cancel()
	if err != nil {
		t.mutex.Lock()
		t.dialing = false
		t.mutex.Unlock()
		return fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	runCtx, stop := context.WithCancel(context.Background())

	t.mutex.Lock()
	if gen != t.generation {
		t.mutex.Unlock()
		stop()
		c.Close(websocket.StatusNormalClosure, "superseded")
		return fmt.Errorf("transport torn down during dial")
	}
	t.conn = c
	t.clientStop = stop
	t.mutex.Unlock()

	go t.runClient(runCtx, c, payload, gen)

	return nil
}

func (t *Transport) runClient(ctx context.Context, c *websocket.Conn, payload []byte, gen uint64) {
	connect := marshal(ConnectFrame{Op: ConnectOp, Payload: payload})
	if err := writeTimeout(ctx, c, connect); err != nil {
		t.clientLost(gen, "")
		return
	}

	// The last typed reason the host sent; reported when the socket dies.
	finalReason := ""
	connected := false

	for {
		_, raw, err := c.Read(ctx)
		if err != nil {
			break
		}

		var generic GenericFrame
		if err := cbor.Unmarshal(raw, &generic); err != nil {
			continue
		}

		switch generic.Op {
		case AcceptOp:
			var accept AcceptFrame
			if err := cbor.Unmarshal(raw, &accept); err != nil {
				continue
			}
			t.mutex.Lock()
			t.localID = netcode.ClientID(accept.ClientID)
			t.mutex.Unlock()

			connected = true
			if t.stale(gen) {
				return
			}
			t.handler.OnClientConnected(netcode.ClientID(accept.ClientID))
		case DisconnectOp:
			var disconnect DisconnectFrame
			if err := cbor.Unmarshal(raw, &disconnect); err != nil {
				continue
			}
			finalReason = disconnect.Reason
		case EventOp:
			var event EventFrame
			if err := cbor.Unmarshal(raw, &event); err != nil {
				continue
			}
			if t.stale(gen) {
				return
			}
			t.handler.OnServerMessage(event.Data)
		}
	}

	if !connected && finalReason == "" {
		// The socket died before admission finished.
		t.clientLost(gen, "")
		return
	}
	t.clientLost(gen, finalReason)
}

func (t *Transport) clientLost(gen uint64, reason string) {
	t.mutex.Lock()
	id := t.localID
	if gen == t.generation {
		t.dialing = false
		t.conn = nil
		t.localID = 0
	}
	t.mutex.Unlock()

	if t.stale(gen) {
		return
	}
	t.handler.OnClientDisconnect(id, reason)
}

// ---------------------------------------------------------------------------
// Teardown

func (t *Transport) Shutdown(ctx context.Context) error {
	t.mutex.Lock()

	// Bumping the generation silences every callback from the session
	// being torn down.
	t.generation++

	hosting := t.hosting
	conn := t.conn
	clientStop := t.clientStop
	httpServer := t.httpServer
	clients := t.clients

	t.hosting = false
	t.dialing = false
	t.conn = nil
	t.clientStop = nil
	t.httpServer = nil
	t.listener = nil
	t.localID = 0
	t.clients = make(map[netcode.ClientID]*hostClient)
	t.mutex.Unlock()

	if hosting {
		frame := marshal(DisconnectFrame{Op: DisconnectOp, Reason: netcode.DisconnectReasonHostShutdown})
		for _, client := range clients {
			writeCtx, cancel := context.WithTimeout(ctx, WRITE_TIMEOUT)
			_ = client.conn.Write(writeCtx, websocket.MessageBinary, frame)
			cancel()
			client.conn.Close(websocket.StatusGoingAway, "host shutting down")
			client.cancel()
		}
		if httpServer != nil {
			if err := httpServer.Shutdown(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	if clientStop != nil {
		clientStop()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	return nil
}
