// Package tailscale shows the state of the local tailscaled node and its
// peers, read from the LocalAPI unix socket.
//
// Parameters:
//
//	socket          tailscaled socket path, platform default when empty
//	format          default "TS {self_ip} {online_peers}/{total_peers}"
//	format_down     shown when the backend is not running, default "TS {state}"
//	format_peer     per online peer, default "{hostname}"
//	peer_separator  default " "
//
// Placeholders: state, hostname, self_ip, tailnet, online_peers,
// total_peers, exit_node, rx, tx and peers.
package tailscale

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tailscale.com/client/local"
	"tailscale.com/ipn/ipnstate"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// Name is the registry name.
const Name = "tailscale"

const stateRunning = "Running"

// StatusClient is the part of the LocalAPI client the module uses.
// *local.Client satisfies it.
type StatusClient interface {
	Status(ctx context.Context) (*ipnstate.Status, error)
}

// Peer is one node in a Summary.
type Peer struct {
	Hostname string
	IP       string
	OS       string
	Online   bool
	ExitNode bool
	RxBytes  int64
	TxBytes  int64
}

// Summary is the reduced view of an ipnstate.Status the module renders.
type Summary struct {
	State       string
	Self        Peer
	Tailnet     string
	Peers       []Peer
	OnlinePeers int
	ExitNode    string
}

// Summarize reduces st. Peers keep the status's sorted key order.
func Summarize(st *ipnstate.Status) Summary {
	s := Summary{State: st.BackendState}
	if st.Self != nil {
		s.Self = peerOf(st.Self)
	}
	if st.CurrentTailnet != nil {
		s.Tailnet = st.CurrentTailnet.Name
	}
	if s.Tailnet == "" {
		s.Tailnet = st.MagicDNSSuffix
	}
	for _, k := range st.Peers() {
		ps := st.Peer[k]
		if ps == nil {
			continue
		}
		p := peerOf(ps)
		s.Peers = append(s.Peers, p)
		if p.Online {
			s.OnlinePeers++
		}
		if p.ExitNode {
			s.ExitNode = p.Hostname
		}
	}
	return s
}

func peerOf(ps *ipnstate.PeerStatus) Peer {
	p := Peer{
		Hostname: ps.HostName,
		OS:       ps.OS,
		Online:   ps.Online,
		ExitNode: ps.ExitNode,
		RxBytes:  ps.RxBytes,
		TxBytes:  ps.TxBytes,
	}
	// The first address is the IPv4 one when the node has both.
	if len(ps.TailscaleIPs) > 0 {
		p.IP = ps.TailscaleIPs[0].String()
	}
	return p
}

type tailscaleModule struct {
	py3        *module.Py3
	client     StatusClient
	format     string
	formatDown string
	formatPeer string
	peerSep    string
}

// New is the module factory backed by the local tailscaled.
func New(py3 *module.Py3) (module.Module, error) {
	return NewWith(newLocalClient(py3.Params().String("socket", "")))(py3)
}

// NewWith returns a factory that reads status from client.
func NewWith(client StatusClient) module.Factory {
	return func(py3 *module.Py3) (module.Module, error) {
		p := py3.Params()
		return &tailscaleModule{
			py3:        py3,
			client:     client,
			format:     p.String("format", "TS {self_ip} {online_peers}/{total_peers}"),
			formatDown: p.String("format_down", "TS {state}"),
			formatPeer: p.String("format_peer", "{hostname}"),
			peerSep:    p.String("peer_separator", " "),
		}, nil
	}
}

func (t *tailscaleModule) Methods() []module.Method {
	return []module.Method{{Name: "tailscale", Fn: t.update}}
}

func (t *tailscaleModule) update(ctx context.Context) (*module.Response, error) {
	st, err := t.client.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("tailscale status: %w", err)
	}
	if st == nil {
		return nil, errors.New("tailscale status: nil response")
	}
	s := Summarize(st)

	params := map[string]any{
		"state":        s.State,
		"hostname":     s.Self.Hostname,
		"self_ip":      s.Self.IP,
		"tailnet":      s.Tailnet,
		"online_peers": s.OnlinePeers,
		"total_peers":  len(s.Peers),
		"exit_node":    s.ExitNode,
		"rx":           t.py3.FormatUnits(float64(s.Self.RxBytes), "B", false),
		"tx":           t.py3.FormatUnits(float64(s.Self.TxBytes), "B", false),
	}
	if s.State != stateRunning {
		return &module.Response{
			Composite: t.py3.SafeFormat(t.formatDown, params),
			Attrs:     map[string]any{"color": t.py3.Color("bad")},
		}, nil
	}

	color := t.py3.Color("good")
	if s.OnlinePeers == 0 && len(s.Peers) > 0 {
		color = t.py3.Color("degraded")
	}
	return &module.Response{
		Composite: t.py3.BuildComposite(t.format, params, map[string]*composite.Composite{
			"peers": t.peers(s.Peers),
		}),
		Attrs: map[string]any{"color": color},
	}, nil
}

func (t *tailscaleModule) peers(peers []Peer) *composite.Composite {
	if !t.py3.FormatContains(t.format, "peers") {
		return nil
	}
	var items []any
	for _, p := range peers {
		if !p.Online {
			continue
		}
		items = append(items, t.py3.SafeFormat(t.formatPeer, map[string]any{
			"hostname": p.Hostname,
			"ip":       p.IP,
			"os":       p.OS,
		}))
	}
	return t.py3.JoinComposites(t.peerSep, items...)
}

// lazyClient builds the LocalAPI client on first use.
type lazyClient struct {
	socket string
	once   sync.Once
	client *local.Client
}

func newLocalClient(socket string) *lazyClient {
	return &lazyClient{socket: socket}
}

func (c *lazyClient) Status(ctx context.Context) (*ipnstate.Status, error) {
	c.once.Do(func() {
		c.client = &local.Client{}
		if c.socket != "" {
			c.client.Socket = c.socket
		}
	})
	return c.client.Status(ctx)
}
