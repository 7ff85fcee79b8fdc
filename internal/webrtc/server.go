// Package webrtc fans recognition results out to browsers over WebRTC data
// channels.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/internal/metrics"
)

// ResultsChannel is the data channel label clients open to receive results
const ResultsChannel = "or-results"

var (
	// ErrInvalidOffer marks offers that cannot be parsed or applied
	ErrInvalidOffer = errors.New("invalid offer")
	// ErrTooManyClients is returned when the client limit is reached
	ErrTooManyClients = errors.New("maximum clients reached")
)

// Client represents a connected WebRTC client
type Client struct {
	id          string
	peerConn    *webrtc.PeerConnection
	channel     atomic.Pointer[webrtc.DataChannel]
	msgChan     chan []byte
	closeChan   chan struct{}
	closeOnce   sync.Once
	msgsSent    atomic.Uint64
	msgsDropped atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server. An empty stunServers list gathers
// host candidates only.
func NewServer(stunServers []string, maxClients int) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
	}
}

// SetMetrics reports client counts into m
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// HandleOffer handles a WebRTC offer and returns an answer. The offer must
// carry a data channel; results flow on the one labeled ResultsChannel.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: failed to parse offer: %w", ErrInvalidOffer, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("%w: failed to parse offer: expected an SDP offer", ErrInvalidOffer)
	}

	if n := s.GetClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        "client-" + uuid.NewString(),
		peerConn:  peerConn,
		msgChan:   make(chan []byte, 30),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ResultsChannel {
			logger.Debug("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.channel.Store(dc)
			logger.Info("WebRTC", "Client %s results channel open", client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if connectionLost(state) {
			logger.Info("WebRTC", "Client %s connection lost (%s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("%w: failed to set remote description: %w", ErrInvalidOffer, err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	if err := s.addClient(client); err != nil {
		return nil, err
	}

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// addClient registers client and starts its sender. A connection that
// already failed was missed by the state callback, so it is removed here.
func (s *Server) addClient(client *Client) error {
	s.clientsMu.Lock()
	if len(s.clients) >= s.maxClients {
		s.clientsMu.Unlock()
		client.peerConn.Close()
		return fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	s.clients[client.id] = client
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveClients.Store(uint64(count))
		s.metrics.TotalClients.Add(1)
	}

	go s.sendMessages(client)

	if state := client.peerConn.ConnectionState(); connectionLost(state) {
		s.RemoveClient(client.id)
		return fmt.Errorf("connection %s during negotiation", state.String())
	}

	logger.Info("WebRTC", "Client %s connected", client.id)
	return nil
}

func connectionLost(state webrtc.PeerConnectionState) bool {
	return state == webrtc.PeerConnectionStateDisconnected ||
		state == webrtc.PeerConnectionStateFailed ||
		state == webrtc.PeerConnectionStateClosed
}

// SendResults queues an encoded result set for every client (non-blocking)
func (s *Server) SendResults(payload []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.msgChan <- payload:
		default:
			client.msgsDropped.Add(1)
		}
	}
}

func (s *Server) sendMessages(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case msg := <-client.msgChan:
			dc := client.channel.Load()
			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				client.msgsDropped.Add(1)
				continue
			}
			if err := dc.Send(msg); err != nil {
				logger.Warn("WebRTC", "Error sending results to client %s: %v", client.id, err)
				client.msgsDropped.Add(1)
				continue
			}
			client.msgsSent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.closeClient(client)
	if s.metrics != nil {
		s.metrics.ActiveClients.Store(uint64(count))
	}

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.msgsSent.Load(), client.msgsDropped.Load())
}

func (s *Server) closeClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.closeChan)
		// Close may re-enter RemoveClient through the state callback.
		go client.peerConn.Close()
	})
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"messages_sent":    client.msgsSent.Load(),
			"messages_dropped": client.msgsDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.clientsMu.Unlock()

	for _, client := range clients {
		s.closeClient(client)
	}
	if s.metrics != nil {
		s.metrics.ActiveClients.Store(0)
	}
	return nil
}
