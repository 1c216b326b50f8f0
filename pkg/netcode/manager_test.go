package netcode_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/netcode"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/sessions"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/transport/loopback"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/utils"

	"github.com/stretchr/testify/require"
)

const WAIT_TIMEOUT = 5 * time.Second

func testConfig(playerID string) netcode.Config {
	cfg := netcode.DefaultConfig()
	cfg.PlayerID = playerID
	cfg.ReconnectCooldown = 20 * time.Millisecond
	cfg.FirstAttemptDelay = 5 * time.Millisecond
	cfg.PrepareTimeout = time.Second
	return cfg
}

type peer struct {
	manager   *netcode.Manager
	transport *loopback.Transport
	statuses  *utils.Subscriber[netcode.ConnectStatus]
}

func startPeer(t *testing.T, network *loopback.Network, cfg netcode.Config) *peer {
	t.Helper()

	store, err := sessions.NewStore("")
	require.NoError(t, err)

	transport := network.NewTransport()
	manager := netcode.NewManager(context.Background(), cfg, transport, store)
	manager.Start()

	statuses := manager.Statuses().Subscribe()
	t.Cleanup(statuses.Done)

	return &peer{manager: manager, transport: transport, statuses: statuses}
}

// waitStatus blocks until the wanted status arrives, skipping over any
// intermediate statuses published along the way.
func waitStatus(t *testing.T, sub *utils.Subscriber[netcode.ConnectStatus], want netcode.ConnectStatus) {
	t.Helper()
	deadline := time.After(WAIT_TIMEOUT)
	for {
		select {
		case status := <-sub.Recv():
			if status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func waitPhase(t *testing.T, manager *netcode.Manager, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return manager.CurrentPhase() == name
	}, WAIT_TIMEOUT, 5*time.Millisecond, "expected phase %s, got %s", name, manager.CurrentPhase())
}

// waitEvent blocks until an event with the wanted status and player name
// arrives, skipping unrelated events.
func waitEvent(
	t *testing.T,
	sub *utils.Subscriber[netcode.ConnectionEventMessage],
	status netcode.ConnectStatus,
	playerName string,
) {
	t.Helper()
	deadline := time.After(WAIT_TIMEOUT)
	for {
		select {
		case event := <-sub.Recv():
			if event.Status == status && event.PlayerName == playerName {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s/%s", status, playerName)
		}
	}
}

func TestHostStartAndShutdown(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)
	waitPhase(t, host.manager, "Hosting")

	host.manager.RequestShutdown()
	waitStatus(t, host.statuses, netcode.StatusUserRequestedDisconnect)
	waitPhase(t, host.manager, "Offline")
}

func TestShutdownWhileOffline(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))

	host.manager.RequestShutdown()
	host.manager.RequestShutdown()

	require.Equal(t, "Offline", host.manager.CurrentPhase())
	select {
	case status := <-host.statuses.Recv():
		t.Fatalf("unexpected status %s while offline", status)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectWithoutHost(t *testing.T) {
	network := loopback.NewNetwork()
	client := startPeer(t, network, testConfig("client"))

	client.manager.StartClientIP("Ari", "127.0.0.1", 9001)
	waitStatus(t, client.statuses, netcode.StatusStartClientFailed)
	waitPhase(t, client.manager, "Offline")
}

func TestClientJoinAndLeave(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))
	client := startPeer(t, network, testConfig("client"))

	hostEvents := host.manager.ConnectionEvents().Subscribe()
	defer hostEvents.Done()
	clientEvents := client.manager.ConnectionEvents().Subscribe()
	defer clientEvents.Done()

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)
	waitPhase(t, host.manager, "Hosting")

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusSuccess)
	waitPhase(t, client.manager, "ClientConnected")

	// Both sides observe the join; the host also saw its own.
	waitEvent(t, hostEvents, netcode.StatusSuccess, "Hesta")
	waitEvent(t, hostEvents, netcode.StatusSuccess, "Ari")
	waitEvent(t, clientEvents, netcode.StatusSuccess, "Ari")

	client.manager.RequestShutdown()
	waitStatus(t, client.statuses, netcode.StatusUserRequestedDisconnect)
	waitPhase(t, client.manager, "Offline")

	waitEvent(t, hostEvents, netcode.StatusGenericDisconnect, "Ari")
}

func TestPeerSeesOtherJoin(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))
	first := startPeer(t, network, testConfig("first"))
	second := startPeer(t, network, testConfig("second"))

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	first.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, first.statuses, netcode.StatusSuccess)

	firstEvents := first.manager.ConnectionEvents().Subscribe()
	defer firstEvents.Done()

	second.manager.StartClientIP("Bram", "127.0.0.1", 9000)
	waitStatus(t, second.statuses, netcode.StatusSuccess)

	waitEvent(t, firstEvents, netcode.StatusSuccess, "Bram")
}

func TestAdmissionServerFull(t *testing.T) {
	network := loopback.NewNetwork()

	hostConfig := testConfig("host")
	hostConfig.MaxConnectedPlayers = 1
	host := startPeer(t, network, hostConfig)
	client := startPeer(t, network, testConfig("client"))

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusServerFull)
	waitPhase(t, client.manager, "Offline")
}

func TestAdmissionBuildMismatch(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))

	clientConfig := testConfig("client")
	clientConfig.DebugBuild = true
	client := startPeer(t, network, clientConfig)

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusIncompatibleBuildType)
	waitPhase(t, client.manager, "Offline")
}

func TestAdmissionDuplicateLogin(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))
	first := startPeer(t, network, testConfig("twin"))
	second := startPeer(t, network, testConfig("twin"))

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	first.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, first.statuses, netcode.StatusSuccess)

	second.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, second.statuses, netcode.StatusLoggedInAgain)
	waitPhase(t, second.manager, "Offline")

	// The original connection is untouched.
	require.Equal(t, "ClientConnected", first.manager.CurrentPhase())
}

func TestAdmissionOversizedPayload(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))
	client := startPeer(t, network, testConfig("client"))

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	// A display name big enough to push the payload over the ceiling gets
	// the connection refused without a reason.
	client.manager.StartClientIP(strings.Repeat("x", 2048), "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusStartClientFailed)
	waitPhase(t, client.manager, "Offline")
}

func TestHostEndedSession(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))
	client := startPeer(t, network, testConfig("client"))

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusSuccess)

	host.manager.RequestShutdown()
	waitStatus(t, host.statuses, netcode.StatusUserRequestedDisconnect)
	waitPhase(t, host.manager, "Offline")

	// A deliberate end of session is terminal for the client; no
	// reconnect attempts happen.
	waitStatus(t, client.statuses, netcode.StatusHostEndedSession)
	waitPhase(t, client.manager, "Offline")
}

func TestReconnectExhaustsAttempts(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))
	client := startPeer(t, network, testConfig("client"))

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusSuccess)

	reconnects := client.manager.Reconnects().Subscribe()
	defer reconnects.Done()

	// The host vanishing without a deliberate goodbye looks like a
	// transient fault, so the client retries until the budget runs out.
	require.NoError(t, host.transport.Shutdown(context.Background()))

	waitStatus(t, client.statuses, netcode.StatusReconnecting)
	waitPhase(t, client.manager, "ClientReconnecting")

	select {
	case progress := <-reconnects.Recv():
		require.Equal(t, 0, progress.CurrentAttempt)
		require.Equal(t, 2, progress.MaxAttempt)
	case <-time.After(WAIT_TIMEOUT):
		t.Fatal("timed out waiting for reconnect progress")
	}

	waitStatus(t, client.statuses, netcode.StatusGenericDisconnect)
	waitPhase(t, client.manager, "Offline")
}

func TestReconnectZeroBudget(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))

	clientConfig := testConfig("client")
	clientConfig.MaxReconnectAttempts = 0
	client := startPeer(t, network, clientConfig)

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusSuccess)

	require.NoError(t, host.transport.Shutdown(context.Background()))
	waitStatus(t, client.statuses, netcode.StatusReconnecting)

	// A willing replacement host makes no difference: a zero budget
	// makes no attempt at all.
	replacement := startPeer(t, network, testConfig("host2"))
	replacement.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, replacement.statuses, netcode.StatusSuccess)

	waitStatus(t, client.statuses, netcode.StatusGenericDisconnect)
	waitPhase(t, client.manager, "Offline")
}

func TestReconnectShutdownClearsProgress(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))

	// Park the retry engine inside its first-attempt delay so the
	// shutdown races a live cycle.
	clientConfig := testConfig("client")
	clientConfig.ReconnectCooldown = time.Hour
	clientConfig.FirstAttemptDelay = time.Hour
	client := startPeer(t, network, clientConfig)

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusSuccess)

	reconnects := client.manager.Reconnects().Subscribe()
	defer reconnects.Done()

	require.NoError(t, host.transport.Shutdown(context.Background()))
	waitStatus(t, client.statuses, netcode.StatusReconnecting)

	select {
	case progress := <-reconnects.Recv():
		require.Equal(t, netcode.ReconnectMessage{CurrentAttempt: 0, MaxAttempt: 2}, progress)
	case <-time.After(WAIT_TIMEOUT):
		t.Fatal("timed out waiting for reconnect progress")
	}

	client.manager.RequestShutdown()
	waitStatus(t, client.statuses, netcode.StatusUserRequestedDisconnect)
	waitPhase(t, client.manager, "Offline")

	// The clearing (max, max) message is the last thing observers see;
	// no stale progress arrives after it.
	var last netcode.ReconnectMessage
	received := false
	for {
		select {
		case message := <-reconnects.Recv():
			last = message
			received = true
		case <-time.After(100 * time.Millisecond):
			require.True(t, received)
			require.Equal(t, netcode.ReconnectMessage{CurrentAttempt: 2, MaxAttempt: 2}, last)
			return
		}
	}
}

func TestReconnectStopsOnAuthoritativeRejection(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))

	clientConfig := testConfig("client")
	clientConfig.ReconnectCooldown = 300 * time.Millisecond
	clientConfig.FirstAttemptDelay = 100 * time.Millisecond
	client := startPeer(t, network, clientConfig)

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusSuccess)

	require.NoError(t, host.transport.Shutdown(context.Background()))
	waitStatus(t, client.statuses, netcode.StatusReconnecting)

	// A replacement host with no free seat comes up before the first
	// retry fires; its rejection ends the reconnect session early.
	replacementConfig := testConfig("host2")
	replacementConfig.MaxConnectedPlayers = 1
	replacement := startPeer(t, network, replacementConfig)
	replacement.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, replacement.statuses, netcode.StatusSuccess)

	waitStatus(t, client.statuses, netcode.StatusServerFull)
	waitPhase(t, client.manager, "Offline")
}

func TestReconnectSucceeds(t *testing.T) {
	network := loopback.NewNetwork()
	host := startPeer(t, network, testConfig("host"))

	clientConfig := testConfig("client")
	clientConfig.ReconnectCooldown = 300 * time.Millisecond
	clientConfig.FirstAttemptDelay = 100 * time.Millisecond
	client := startPeer(t, network, clientConfig)

	host.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, host.statuses, netcode.StatusSuccess)

	client.manager.StartClientIP("Ari", "127.0.0.1", 9000)
	waitStatus(t, client.statuses, netcode.StatusSuccess)

	require.NoError(t, host.transport.Shutdown(context.Background()))
	waitStatus(t, client.statuses, netcode.StatusReconnecting)

	replacement := startPeer(t, network, testConfig("host2"))
	replacement.manager.StartHostIP("Hesta", "127.0.0.1", 9000)
	waitStatus(t, replacement.statuses, netcode.StatusSuccess)

	waitStatus(t, client.statuses, netcode.StatusSuccess)
	waitPhase(t, client.manager, "ClientConnected")
}
