// Package rislive provides a WebSocket client for the RIPE RIS Live BGP stream.
package rislive

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"go.uber.org/zap"
)

const (
	// RISLiveURL is the WebSocket endpoint for RIS Live.
	RISLiveURL = "wss://ris-live.ripe.net/v1/ws/"

	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// Subscription is the ris_subscribe filter for one collector.
type Subscription struct {
	Host         string // collector, e.g. "rrc00"; empty for all
	Prefix       string // target prefix; empty for all
	MoreSpecific bool
	LessSpecific bool
	Path         string // AS path regex, e.g. "13335$"
}

func (s Subscription) message() map[string]interface{} {
	data := map[string]interface{}{
		"type": "UPDATE",
	}
	if s.Host != "" {
		data["host"] = s.Host
	}
	if s.Prefix != "" {
		data["prefix"] = s.Prefix
		data["moreSpecific"] = s.MoreSpecific
		data["lessSpecific"] = s.LessSpecific
	}
	if s.Path != "" {
		data["path"] = s.Path
	}
	return map[string]interface{}{
		"type": "ris_subscribe",
		"data": data,
	}
}

// Client is a WebSocket client for RIS Live with automatic reconnection.
type Client struct {
	url     string
	sub     Subscription
	updates chan<- models.BGPUpdate
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *zap.Logger

	// Stats
	messagesReceived uint64
	updatesParsed    uint64
	errors           uint64
	reconnects       uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewClient creates a new RIS Live client for one subscription.
func NewClient(url string, sub Subscription, updates chan<- models.BGPUpdate, logger *zap.Logger) *Client {
	if url == "" {
		url = RISLiveURL
	}
	name := sub.Host
	if name == "" {
		name = "all"
	}
	return &Client{
		url:     url,
		sub:     sub,
		updates: updates,
		done:    make(chan struct{}),
		logger:  logging.OrNop(logger).Named("rislive").With(zap.String("collector", name)),
	}
}

// Start begins the WebSocket connection in a goroutine.
func (c *Client) Start() {
	if c.running.Swap(true) {
		c.logger.Warn("client already running")
		return
	}

	c.wg.Add(1)
	go c.runLoop()
	c.logger.Info("client started")
}

// Stop gracefully shuts down the client.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.logger.Info("client stopped")
}

// Stats is a snapshot of one client's counters.
type Stats struct {
	Collector        string `json:"collector"`
	Connected        bool   `json:"connected"`
	MessagesReceived uint64 `json:"messages_received"`
	UpdatesParsed    uint64 `json:"updates_parsed"`
	Errors           uint64 `json:"errors"`
	Reconnects       uint64 `json:"reconnects"`
}

// Stats returns current statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Collector:        c.sub.Host,
		Connected:        c.connected.Load(),
		MessagesReceived: atomic.LoadUint64(&c.messagesReceived),
		UpdatesParsed:    atomic.LoadUint64(&c.updatesParsed),
		Errors:           atomic.LoadUint64(&c.errors),
		Reconnects:       atomic.LoadUint64(&c.reconnects),
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	reconnectDelay := initialReconnectDelay

	for c.running.Load() {
		err := c.connectAndStream()
		if err != nil {
			atomic.AddUint64(&c.errors, 1)
			atomic.AddUint64(&c.reconnects, 1)
			c.logger.Warn("connection error, reconnecting", zap.Error(err), zap.Duration("delay", reconnectDelay))
		}

		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
	}
}

func (c *Client) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	c.logger.Debug("connecting to RIS Live", zap.String("url", c.url))
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(c.sub.message()); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	c.connected.Store(true)
	c.logger.Info("connected and subscribed", zap.String("prefix", c.sub.Prefix))

	conn.SetPongHandler(func(string) error {
		return nil
	})

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				// Close connection to unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for c.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			c.connected.Store(false)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if !c.running.Load() {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		received := atomic.AddUint64(&c.messagesReceived, 1)

		updates, err := ParseMessage(message, c.sub.Host)
		if err != nil {
			if received <= 10 {
				c.logger.Debug("parse error", zap.Error(err))
			}
			continue
		}
		for _, update := range updates {
			atomic.AddUint64(&c.updatesParsed, 1)
			select {
			case c.updates <- update:
			case <-c.done:
				c.connected.Store(false)
				return nil
			}
		}
	}

	c.connected.Store(false)
	return nil
}

// MultiClient manages one RIS Live client per collector.
type MultiClient struct {
	clients []*Client
	updates chan models.BGPUpdate
	running atomic.Bool
	logger  *zap.Logger
}

// NewMultiClient creates a client per collector sharing one update channel.
// With no collectors a single unfiltered subscription is used.
func NewMultiClient(url string, collectors []string, base Subscription, bufferSize int, logger *zap.Logger) *MultiClient {
	updates := make(chan models.BGPUpdate, bufferSize)
	if len(collectors) == 0 {
		collectors = []string{""}
	}
	clients := make([]*Client, len(collectors))

	for i, collector := range collectors {
		sub := base
		sub.Host = collector
		clients[i] = NewClient(url, sub, updates, logger)
	}

	return &MultiClient{
		clients: clients,
		updates: updates,
		logger:  logging.OrNop(logger).Named("rislive"),
	}
}

// Updates returns the channel of BGP updates.
func (mc *MultiClient) Updates() <-chan models.BGPUpdate {
	return mc.updates
}

// Start begins all collector clients.
func (mc *MultiClient) Start() {
	if mc.running.Swap(true) {
		return
	}
	for _, client := range mc.clients {
		client.Start()
	}
	mc.logger.Info("multi-client started", zap.Int("collectors", len(mc.clients)))
}

// Stop gracefully shuts down all clients and closes the update channel.
func (mc *MultiClient) Stop() {
	if !mc.running.Swap(false) {
		return
	}
	for _, client := range mc.clients {
		client.Stop()
	}
	close(mc.updates)
	mc.logger.Info("multi-client stopped")
}

// Totals sums the counters of every collector client.
func (mc *MultiClient) Totals() Stats {
	var total Stats
	for _, client := range mc.clients {
		st := client.Stats()
		total.MessagesReceived += st.MessagesReceived
		total.UpdatesParsed += st.UpdatesParsed
		total.Errors += st.Errors
		total.Reconnects += st.Reconnects
		total.Connected = total.Connected || st.Connected
	}
	return total
}
