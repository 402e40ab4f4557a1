package rtc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/mentorverse/liplink/pkg/types"
)

// TransportConfig holds the network-facing WebRTC settings.
type TransportConfig struct {
	// PublicIP, when set, is advertised in place of the host's private
	// addresses (the server usually sits behind NAT or inside a container).
	PublicIP string

	// PortMin and PortMax constrain the ephemeral UDP range so firewalls can
	// be opened narrowly. Zero values leave the range unconstrained.
	PortMin uint16
	PortMax uint16

	// STUNURL is the STUN server handed to the ICE agent.
	STUNURL string

	// TURNURL is the TURN server the media is relayed through, with its
	// long-term credentials. The relay-only candidate policy depends on it.
	TURNURL  string
	TURNUser string
	TURNPass string
}

// ICEServers renders the config as browser-shaped ICE server entries, for
// the /v1/webrtc/config endpoint and the local agent alike.
func (c TransportConfig) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if c.STUNURL != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{c.STUNURL}})
	}
	if c.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TURNURL},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// Peer wraps one server-side peer connection with its media tracks.
type Peer struct {
	cfg TransportConfig
	pc  *webrtc.PeerConnection
}

// NewPeer builds a peer connection with the configured port range and NAT
// mapping, and attaches both tracks as sendonly transceivers before
// negotiation so the answer always carries the media sections.
func NewPeer(cfg TransportConfig, tracks *Tracks) (*Peer, error) {
	se := webrtc.SettingEngine{}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("rtc: port range %d-%d: %w", cfg.PortMin, cfg.PortMax, err)
		}
	}
	if cfg.PublicIP != "" {
		se.SetNAT1To1IPs([]string{cfg.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers()})
	if err != nil {
		return nil, fmt.Errorf("rtc: create peer connection: %w", err)
	}

	for _, track := range []*webrtc.TrackLocalStaticSample{tracks.Video, tracks.Audio} {
		if _, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("rtc: add %s track: %w", track.Kind(), err)
		}
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Info("peer connection state", "state", state.String())
	})

	return &Peer{cfg: cfg, pc: pc}, nil
}

// OnConnectionStateChange registers a state callback, replacing the default
// logging one.
func (p *Peer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(f)
}

// HandleOffer applies the client's offer and returns the munged answer along
// with the relay candidates to trickle to the client. Gathering runs to
// completion first so the answer is self-contained.
func (p *Peer) HandleOffer(ctx context.Context, offerSDP string) (string, []types.ICECandidate, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", nil, fmt.Errorf("rtc: set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", nil, fmt.Errorf("rtc: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", nil, fmt.Errorf("rtc: set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", nil, fmt.Errorf("rtc: no local description after gathering")
	}

	munged := MungeSDP(local.SDP, p.cfg.PublicIP)
	return munged, ExtractCandidates(munged), nil
}

// AddICECandidate feeds a client candidate into the ICE agent.
func (p *Peer) AddICECandidate(c types.ICECandidate) error {
	idx := uint16(c.SDPMLineIndex)
	mid := c.SDPMid
	err := p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
	if err != nil {
		return fmt.Errorf("rtc: add ice candidate: %w", err)
	}
	return nil
}

// Close tears the peer connection down.
func (p *Peer) Close() error {
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("rtc: close peer connection: %w", err)
	}
	return nil
}
